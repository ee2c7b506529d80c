package utils

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
)

// Record 按行保存的小文件，整体替换写入
type Record struct {
	Filename string
	Contents []string
}

func NewRecord(filename string) *Record {
	return &Record{
		Filename: filename,
		Contents: make([]string, 0),
	}
}

// Load 文件不存在时 Contents 为空
func (r *Record) Load() error {
	r.Contents = r.Contents[:0]
	if _, err := os.Stat(r.Filename); err != nil {
		return nil
	}

	f, err := os.OpenFile(r.Filename, os.O_RDONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if tmp := scanner.Text(); len(tmp) != 0 {
			r.Contents = append(r.Contents, tmp)
		}
	}
	return scanner.Err()
}

// Write replaces the file with lines through a temp file and rename.
func (r *Record) Write(lines []string) error {
	dir := filepath.Dir(r.Filename)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".record-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	writer := bufio.NewWriter(f)
	for _, line := range lines {
		if _, err = writer.WriteString(fmt.Sprintf("%s\n", line)); err != nil {
			f.Close()
			return err
		}
	}
	if err = writer.Flush(); err != nil {
		f.Close()
		return err
	}
	if err = f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmp, r.Filename); err != nil {
		return err
	}
	r.Contents = append(r.Contents[:0], lines...)
	return nil
}
