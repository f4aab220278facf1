package main

import (
	"bytes"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/kstaniek/go-tesla-das/internal/dbc"
	"github.com/kstaniek/go-tesla-das/internal/teslacan"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

// parseDumpLine reverses formatFrame for standard IDs.
func parseDumpLine(t *testing.T, line string) (uint32, []byte) {
	t.Helper()
	fields := strings.Fields(line)
	if len(fields) < 3 {
		t.Fatalf("short dump line %q", line)
	}
	id, err := strconv.ParseUint(fields[1], 16, 32)
	if err != nil {
		t.Fatalf("id in %q: %v", line, err)
	}
	data, err := hex.DecodeString(strings.Join(fields[3:], ""))
	if err != nil {
		t.Fatalf("data in %q: %v", line, err)
	}
	return uint32(id), data
}

func TestRunDumpPipeline(t *testing.T) {
	var out bytes.Buffer
	orig := dumpOut
	dumpOut = &out
	defer func() { dumpOut = orig }()

	input := writeFile(t, "intents.jsonl", strings.Join([]string{
		"# steering then longitudinal then passthrough",
		`{"kind":"steering","angle":-12.5,"enabled":true}`,
		`{"kind":"longitudinal","acc_state":4,"accel":1.0,"active":true}`,
		`{"kind":"bogus"}`,
		`{"kind":"passthrough","acc_state":4,"accel":0.5,"active":true,"speed":10,` +
			`"stock":{"set_speed":88,"accel_min":-1.2,"accel_max":0.8,"jerk_min":-4.6,"jerk_max":3.4}}`,
		`{"kind":"passthrough","acc_state":4,"accel":0.5,"active":true,"speed":10}`,
	}, "\n"))

	cfg, _ := defaultConfig(t)
	cfg.backend = backendDump
	cfg.input = input
	if err := cfg.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := run(cfg, testLogger()); err != nil {
		t.Fatalf("run: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	// bogus kind and passthrough without any stock source are dropped
	if len(lines) != 3 {
		t.Fatalf("expected 3 frames, got %d:\n%s", len(lines), out.String())
	}
	wantIDs := []uint32{teslacan.SteeringControlAddr, teslacan.ControlAddr, teslacan.ControlAddr}
	for i, line := range lines {
		id, data := parseDumpLine(t, line)
		if id != wantIDs[i] {
			t.Fatalf("frame %d: id %#x want %#x", i, id, wantIDs[i])
		}
		last := len(data) - 1
		if got := teslacan.Checksum(id, data[:last]); got != data[last] {
			t.Fatalf("frame %d: checksum %#02x want %#02x", i, data[last], got)
		}
	}
}

func TestRunInputMissing(t *testing.T) {
	cfg, _ := defaultConfig(t)
	cfg.backend = backendDump
	cfg.input = filepath.Join(t.TempDir(), "missing.jsonl")
	err := run(cfg, testLogger())
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestBuildEncoder(t *testing.T) {
	cfg, _ := defaultConfig(t)
	cfg.bus = 2
	_, enc, err := buildEncoder(cfg)
	if err != nil {
		t.Fatalf("embedded database: %v", err)
	}
	if enc.Params().Bus != 2 {
		t.Fatalf("bus not applied: %+v", enc.Params())
	}
	fr, err := enc.SteeringControl(teslacan.SteeringIntent{Angle: 1, Enabled: true})
	if err != nil || fr.Bus != 2 {
		t.Fatalf("SteeringControl: %+v %v", fr, err)
	}
}

func TestBuildEncoder_DatabaseErrors(t *testing.T) {
	cfg, _ := defaultConfig(t)
	cfg.dbcPath = filepath.Join(t.TempDir(), "nope.yaml")
	if _, _, err := buildEncoder(cfg); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("missing file: %v", err)
	}

	cfg.dbcPath = writeFile(t, "partial.yaml", `messages:
  - name: DAS_steeringControl
    address: 0x488
    size: 4
    signals:
      - {name: DAS_steeringControlChecksum, start: 31, size: 8, factor: 1, offset: 0, min: 0, max: 255}
`)
	if _, _, err := buildEncoder(cfg); !errors.Is(err, dbc.ErrUnknownMessage) {
		t.Fatalf("database without DAS_control: %v", err)
	}
}
