package service

import (
	"os"
	"path/filepath"
)

func writeFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return err
	}
	return os.WriteFile(path, []byte("media"), 0o644)
}
