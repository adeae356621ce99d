// Package filestore はデータ請求の添付ファイル実体をローカルディスクに置く。
// アップロードは研究室側の書き出しツールが行うので、ここでは削除だけ扱う
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound は実体が既に無いとき Remove が返す。fs.ErrNotExist でも判定できる
var ErrNotFound = fmt.Errorf("filestore: artifact not found: %w", fs.ErrNotExist)

var errInvalidKey = errors.New("filestore: invalid key")

type FileStore struct {
	root string
}

// New は root が無ければ作る
func New(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("filestore: create %s: %w", root, err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &FileStore{root: abs}, nil
}

// resolve は root の外を指すキーを拒否する
func (s *FileStore) resolve(key string) (string, error) {
	clean := filepath.Clean("/" + filepath.FromSlash(key))
	if clean == string(filepath.Separator) {
		return "", errInvalidKey
	}
	full := filepath.Join(s.root, clean)
	if !strings.HasPrefix(full, s.root+string(filepath.Separator)) {
		return "", errInvalidKey
	}
	return full, nil
}

// Remove は key の実体を削除する
func (s *FileStore) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("filestore: remove %s: %w", key, err)
	}
	return nil
}

func (s *FileStore) Root() string { return s.root }
