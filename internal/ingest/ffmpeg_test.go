package ingest

import (
	"bufio"
	"bytes"
	"io"
	"testing"
)

func TestFindJPEGStart_SkipsLeadingNoiseToMarker(t *testing.T) {
	r := bufio.NewReader(bytes.NewReader([]byte{0x00, 0x11, 0xFF, 0xD8, 0x99}))
	if err := findJPEGStart(r); err != nil {
		t.Fatalf("findJPEGStart returned error: %v", err)
	}
	rest, _ := io.ReadAll(r)
	if len(rest) != 1 || rest[0] != 0x99 {
		t.Errorf("reader positioned wrong after marker, remaining = %v", rest)
	}
}

func TestFindJPEGStart_EOFWithoutMarker(t *testing.T) {
	r := bufio.NewReader(bytes.NewReader([]byte{0x00, 0x01, 0x02}))
	if err := findJPEGStart(r); err != io.EOF {
		t.Errorf("findJPEGStart error = %v, want io.EOF", err)
	}
}

func TestReadUntilJPEGEnd_ReturnsFullFrameIncludingMarkers(t *testing.T) {
	body := []byte{0xAB, 0xCD, 0xFF, 0xD9}
	r := bufio.NewReader(bytes.NewReader(body))

	data, err := readUntilJPEGEnd(r)
	if err != nil {
		t.Fatalf("readUntilJPEGEnd returned error: %v", err)
	}

	want := []byte{0xFF, 0xD8, 0xAB, 0xCD, 0xFF, 0xD9}
	if !bytes.Equal(data, want) {
		t.Errorf("readUntilJPEGEnd = %v, want %v", data, want)
	}
}

func TestReadUntilJPEGEnd_FFNotFollowedByD9IsNotTreatedAsEnd(t *testing.T) {
	// 0xFF 0x00 is a byte-stuffed 0xFF inside entropy-coded data, not a marker.
	body := []byte{0xFF, 0x00, 0xFF, 0xD9}
	r := bufio.NewReader(bytes.NewReader(body))

	data, err := readUntilJPEGEnd(r)
	if err != nil {
		t.Fatalf("readUntilJPEGEnd returned error: %v", err)
	}

	want := []byte{0xFF, 0xD8, 0xFF, 0x00, 0xFF, 0xD9}
	if !bytes.Equal(data, want) {
		t.Errorf("readUntilJPEGEnd = %v, want %v", data, want)
	}
}

func TestReadUntilJPEGEnd_EOFBeforeEndMarker(t *testing.T) {
	r := bufio.NewReader(bytes.NewReader([]byte{0x01, 0x02}))
	if _, err := readUntilJPEGEnd(r); err != io.EOF {
		t.Errorf("readUntilJPEGEnd error = %v, want io.EOF", err)
	}
}
