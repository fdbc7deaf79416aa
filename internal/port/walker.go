package port

// FileWalker lists candidate files for directory ingestion.
type FileWalker interface {
	Walk(root string) ([]FileInfo, error)
}

type FileInfo struct {
	Path    string
	RelPath string
	ModTime int64
	Size    int64
}

// FileReader returns the plain text of a file.
type FileReader interface {
	ReadFile(path string) (string, error)
}
