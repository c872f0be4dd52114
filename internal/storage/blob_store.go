package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

const sourcesDir = "sources"

// Entry 命名空间下的一个源文件
type Entry struct {
	Name string // 存储文件名 <file_id>_<原文件名>
	Path string // 相对存储根目录的路径
	Size int64
}

// BlobStore 源文件存储
type BlobStore interface {
	// EnsureNamespace 创建知识库的 sources 目录
	EnsureNamespace(kbID string) error
	// Write 写入文件，返回存储路径和字节数
	Write(kbID, name string, r io.Reader) (string, int64, error)
	// List 按文件名排序列出命名空间，命名空间不存在返回空
	List(kbID string) ([]Entry, error)
	Open(path string) (io.ReadCloser, error)
	Delete(path string) error
	DeleteNamespace(kbID string) error
}

// FSBlobStore 基于 afero 文件系统的实现，目录布局 <base>/<kb_id>/sources/<name>
type FSBlobStore struct {
	fs afero.Fs
}

// NewLocalBlobStore 本地磁盘存储
func NewLocalBlobStore(basePath string) (*FSBlobStore, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("创建存储目录失败: %w", err)
	}
	return NewFSBlobStore(afero.NewBasePathFs(afero.NewOsFs(), basePath)), nil
}

// NewMemoryBlobStore 内存存储，用于测试
func NewMemoryBlobStore() *FSBlobStore {
	return NewFSBlobStore(afero.NewMemMapFs())
}

// NewFSBlobStore 使用指定文件系统
func NewFSBlobStore(fs afero.Fs) *FSBlobStore {
	return &FSBlobStore{fs: fs}
}

func namespaceDir(kbID string) string {
	return filepath.Join(kbID, sourcesDir)
}

func validateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("非法文件名: %q", name)
	}
	return nil
}

func (s *FSBlobStore) EnsureNamespace(kbID string) error {
	if err := validateName(kbID); err != nil {
		return err
	}
	return s.fs.MkdirAll(namespaceDir(kbID), 0o755)
}

func (s *FSBlobStore) Write(kbID, name string, r io.Reader) (string, int64, error) {
	if err := validateName(name); err != nil {
		return "", 0, err
	}
	if err := s.EnsureNamespace(kbID); err != nil {
		return "", 0, err
	}

	path := filepath.Join(namespaceDir(kbID), name)
	f, err := s.fs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", 0, fmt.Errorf("创建文件失败: %w", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = s.fs.Remove(path)
		return "", 0, fmt.Errorf("写入文件失败: %w", err)
	}
	return path, n, nil
}

func (s *FSBlobStore) List(kbID string) ([]Entry, error) {
	dir := namespaceDir(kbID)
	infos, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("读取目录失败: %w", err)
	}

	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		entries = append(entries, Entry{
			Name: info.Name(),
			Path: filepath.Join(dir, info.Name()),
			Size: info.Size(),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (s *FSBlobStore) Open(path string) (io.ReadCloser, error) {
	return s.fs.Open(path)
}

// Delete 删除文件，文件不存在视为成功
func (s *FSBlobStore) Delete(path string) error {
	if path == "" {
		return nil
	}
	if err := s.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *FSBlobStore) DeleteNamespace(kbID string) error {
	if err := validateName(kbID); err != nil {
		return err
	}
	return s.fs.RemoveAll(kbID)
}

// NamespaceExists 知识库的 sources 目录是否存在
func (s *FSBlobStore) NamespaceExists(kbID string) (bool, error) {
	return afero.DirExists(s.fs, namespaceDir(kbID))
}
