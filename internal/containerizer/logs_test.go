package containerizer

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func frame(stream byte, payload string) []byte {
	header := make([]byte, 8)
	header[0] = stream
	binary.BigEndian.PutUint32(header[4:8], uint32(len(payload)))
	return append(header, payload...)
}

func TestDemuxLogs(t *testing.T) {
	var src bytes.Buffer
	src.Write(frame(1, "out line\n"))
	src.Write(frame(2, "err line\n"))
	src.Write(frame(1, "more out\n"))

	var stdout, stderr bytes.Buffer
	if err := DemuxLogs(&stdout, &stderr, &src); err != nil {
		t.Fatalf("DemuxLogs failed: %v", err)
	}
	if stdout.String() != "out line\nmore out\n" {
		t.Errorf("unexpected stdout: %q", stdout.String())
	}
	if stderr.String() != "err line\n" {
		t.Errorf("unexpected stderr: %q", stderr.String())
	}
}

func TestDemuxLogsTruncatedHeader(t *testing.T) {
	var stdout, stderr bytes.Buffer
	src := bytes.NewReader([]byte{1, 0, 0})
	if err := DemuxLogs(&stdout, &stderr, src); err != nil {
		t.Errorf("truncated trailing header should read as clean EOF, got %v", err)
	}
}
