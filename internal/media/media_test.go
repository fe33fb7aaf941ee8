package media

import (
	"context"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseFrameRate(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  float64
	}{
		{name: "integer rational", input: "30/1", want: 30},
		{name: "ntsc rational", input: "24000/1001", want: 23.976023976023978},
		{name: "plain number", input: "25", want: 25},
		{name: "zero denominator", input: "30/0", want: 0},
		{name: "garbage", input: "abc", want: 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := parseFrameRate(tc.input); got != tc.want {
				t.Errorf("parseFrameRate(%q) = %v, want %v", tc.input, got, tc.want)
			}
		})
	}
}

func TestWriteConcatList(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		filepath.Join(dir, "seg_1.mp4"),
		filepath.Join(dir, "it's here.mp4"),
	}

	listFile, err := writeConcatList(paths)
	if err != nil {
		t.Fatalf("writeConcatList: %v", err)
	}
	defer os.Remove(listFile)

	data, err := os.ReadFile(listFile)
	if err != nil {
		t.Fatalf("reading list: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), string(data))
	}
	if !strings.HasPrefix(lines[0], "file '") {
		t.Errorf("line %q missing file directive", lines[0])
	}
	if !strings.Contains(lines[1], `'\''`) {
		t.Errorf("single quote not escaped: %q", lines[1])
	}
}

func TestConcatenateSingleInputCopies(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "seg_1.mp4")
	dst := filepath.Join(dir, "scene.mp4")
	if err := os.WriteFile(src, []byte("videodata"), 0o644); err != nil {
		t.Fatalf("writing source: %v", err)
	}

	// Single-input concatenation never shells out, so an unlocated
	// toolkit is fine here.
	tk := &Toolkit{}
	if err := tk.Concatenate(context.Background(), []string{src}, dst); err != nil {
		t.Fatalf("Concatenate: %v", err)
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if string(data) != "videodata" {
		t.Errorf("output = %q, want byte-identical copy", data)
	}
}

func TestConcatenateNoInputs(t *testing.T) {
	tk := &Toolkit{}
	if err := tk.Concatenate(context.Background(), nil, "out.mp4"); err == nil {
		t.Fatal("expected error for empty input list")
	}
}

func TestLoadGrayFrame(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 640, 360))
	for i := range src.Pix {
		src.Pix[i] = uint8(i % 256)
	}
	path := filepath.Join(t.TempDir(), "frame_000001.jpg")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating frame: %v", err)
	}
	if err := jpeg.Encode(f, src, nil); err != nil {
		t.Fatalf("encoding frame: %v", err)
	}
	f.Close()

	frame, err := loadGrayFrame(path, 320, 180)
	if err != nil {
		t.Fatalf("loadGrayFrame: %v", err)
	}
	bounds := frame.Bounds()
	if bounds.Dx() != 320 || bounds.Dy() != 180 {
		t.Errorf("frame size = %dx%d, want 320x180", bounds.Dx(), bounds.Dy())
	}
}

func TestCollectFramePathsSortedAndFiltered(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"frame_000002.jpg", "frame_000001.jpg", "notes.txt", "frame_bad.png"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatalf("writing %s: %v", name, err)
		}
	}

	paths, err := collectFramePaths(dir)
	if err != nil {
		t.Fatalf("collectFramePaths: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("got %d paths, want 2: %v", len(paths), paths)
	}
	if filepath.Base(paths[0]) != "frame_000001.jpg" || filepath.Base(paths[1]) != "frame_000002.jpg" {
		t.Errorf("paths not sorted: %v", paths)
	}
}
