// Package settings persists the mixer settings document as a JSON file.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/liuscraft/orion-mixer/internal/logging"
	"github.com/liuscraft/orion-mixer/internal/mixer"
)

var _ mixer.Store = (*FileStore)(nil)

// FileStore 将设置文档保存为带缩进的 JSON 文件
type FileStore struct {
	Path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// Save 先写临时文件再 rename，避免中途失败留下半个文件
func (s *FileStore) Save(doc mixer.Settings) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create settings dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp settings file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close settings: %w", err)
	}
	if err := os.Rename(tmpName, s.Path); err != nil {
		return fmt.Errorf("replace settings %s: %w", s.Path, err)
	}

	logging.Infof("Settings: saved to %s", s.Path)
	return nil
}

// Load 读取并解码设置文档；文件不存在时返回的错误满足 errors.Is(err, os.ErrNotExist)
func (s *FileStore) Load() (mixer.Settings, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return mixer.Settings{}, fmt.Errorf("read settings %s: %w", s.Path, err)
	}

	var doc mixer.Settings
	if err := json.Unmarshal(data, &doc); err != nil {
		return mixer.Settings{}, fmt.Errorf("parse settings %s: %w", s.Path, err)
	}
	logging.Infof("Settings: loaded from %s (%d channels)", s.Path, len(doc.Channels))
	return doc, nil
}
