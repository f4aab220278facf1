package main

import "time"

const (
	backendSocketCAN  = "socketcan"
	backendSerial     = "serial"
	backendCannelloni = "cannelloni"
	backendDump       = "dump"
)

const (
	txQueueSize       = 256  // async TX queue per backend
	serialReadBufSize = 4096 // per read() buffer for the serial backend
	rxBackoffMin      = 20 * time.Millisecond
	rxBackoffMax      = 500 * time.Millisecond
	drainTimeout      = 2 * time.Second // flush budget when the input ends
)
