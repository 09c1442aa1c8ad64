package tools

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ToolFilesystem is the name of the sandboxed filesystem tool.
const ToolFilesystem = "filesystem"

const (
	defaultFileMaxBytes = 1 << 20
	defaultReadLines    = 2000
	maxLineLength       = 2000
)

// FilesystemTool reads files and lists directories below a fixed root. Every
// access goes through os.Root, so ".." and symlinks cannot leave the root.
type FilesystemTool struct {
	root     string
	maxBytes int64
}

// NewFilesystemTool creates the tool for root. maxBytes caps the size of a file
// that may be read; 0 means 1MB.
func NewFilesystemTool(root string, maxBytes int64) (*FilesystemTool, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("filesystem root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("filesystem root %s is not a directory", abs)
	}
	if maxBytes <= 0 {
		maxBytes = defaultFileMaxBytes
	}
	return &FilesystemTool{root: abs, maxBytes: maxBytes}, nil
}

func (t *FilesystemTool) Name() string {
	return ToolFilesystem
}

// Root returns the absolute directory the tool is confined to.
func (t *FilesystemTool) Root() string {
	return t.root
}

func (t *FilesystemTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolFilesystem,
		Description: "Read-only access to files below the working directory. 'read' returns numbered lines, 'list' returns directory entries, 'exists' checks a path.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"operation": {
					Type:        "string",
					Description: "Operation to perform",
					Enum:        []string{"read", "list", "exists"},
				},
				"path": {
					Type:        "string",
					Description: "Path relative to the working directory. Defaults to '.' for list.",
				},
				"offset": {
					Type:        "integer",
					Description: "read: line number to start from (1-based). Defaults to 1.",
				},
				"limit": {
					Type:        "integer",
					Description: "read: number of lines to return. Defaults to 2000.",
				},
			},
			Required: []string{"operation"},
		},
	}
}

// Exec runs one operation. Missing files and paths outside the root are failure
// results; only malformed arguments are Go errors.
func (t *FilesystemTool) Exec(_ context.Context, args map[string]any) (*ExecResult, error) {
	op, ok := args["operation"].(string)
	if !ok || op == "" {
		return nil, fmt.Errorf("operation is required and must be a string")
	}
	path, _ := args["path"].(string)
	rel := sandboxPath(path)

	root, err := os.OpenRoot(t.root)
	if err != nil {
		return ErrorResult("working directory unavailable: " + err.Error()), nil
	}
	defer func() { _ = root.Close() }()

	switch op {
	case "read":
		if rel == "." {
			return nil, fmt.Errorf("path is required for read")
		}
		return t.read(root, rel, intArg(args, "offset", 1), intArg(args, "limit", defaultReadLines))
	case "list":
		return t.list(root, rel)
	case "exists":
		info, err := root.Stat(rel)
		if err != nil {
			return SuccessResult(map[string]any{"path": rel, "exists": false})
		}
		return SuccessResult(map[string]any{"path": rel, "exists": true, "is_dir": info.IsDir()})
	default:
		return nil, fmt.Errorf("unknown operation %q (want read, list or exists)", op)
	}
}

func (t *FilesystemTool) read(root *os.Root, rel string, offset, limit int) (*ExecResult, error) {
	info, err := root.Stat(rel)
	switch {
	case err != nil:
		return ErrorResult(describePathError(rel, err)), nil
	case info.IsDir():
		return ErrorResult(rel + " is a directory"), nil
	case info.Size() > t.maxBytes:
		return ErrorResult(fmt.Sprintf("file too large: %d bytes (max %d)", info.Size(), t.maxBytes)), nil
	}

	f, err := root.Open(rel)
	if err != nil {
		return ErrorResult(describePathError(rel, err)), nil
	}
	defer func() { _ = f.Close() }()

	var sb strings.Builder
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), int(t.maxBytes)+1)
	total := 0
	for scanner.Scan() {
		total++
		if total < offset || total >= offset+limit {
			continue
		}
		line := scanner.Text()
		if len(line) > maxLineLength {
			line = line[:maxLineLength]
		}
		fmt.Fprintf(&sb, "%6d\t%s\n", total, line)
	}
	if err := scanner.Err(); err != nil {
		return ErrorResult(fmt.Sprintf("failed to read %s: %v", rel, err)), nil
	}

	return SuccessResult(map[string]any{
		"success":     true,
		"path":        rel,
		"content":     sb.String(),
		"offset":      offset,
		"limit":       limit,
		"total_lines": total,
		"truncated":   total >= offset+limit,
	})
}

func (t *FilesystemTool) list(root *os.Root, rel string) (*ExecResult, error) {
	entries, err := fs.ReadDir(root.FS(), filepath.ToSlash(rel))
	if err != nil {
		return ErrorResult(describePathError(rel, err)), nil
	}

	type fileEntry struct {
		Name string `json:"name"`
		Size int64  `json:"size"`
	}
	files := []fileEntry{}
	dirs := []string{}
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileEntry{Name: e.Name(), Size: info.Size()})
	}
	sort.Strings(dirs)
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	return SuccessResult(map[string]any{
		"success":     true,
		"path":        rel,
		"files":       files,
		"directories": dirs,
	})
}

// sandboxPath turns a caller path into a clean path relative to the root. Absolute
// paths are read as relative to the root and leading ".." elements are dropped.
func sandboxPath(p string) string {
	cleaned := filepath.Clean(string(filepath.Separator) + p)
	rel := strings.TrimLeft(cleaned, string(filepath.Separator))
	if rel == "" {
		return "."
	}
	return rel
}

func describePathError(rel string, err error) string {
	if errors.Is(err, fs.ErrNotExist) {
		return rel + " does not exist"
	}
	return fmt.Sprintf("cannot access %s: %v", rel, err)
}

// intArg reads a positive integer argument, falling back to def.
func intArg(args map[string]any, key string, def int) int {
	if _, ok := args[key]; !ok {
		return def
	}
	n, err := numberArg(args, key)
	if err != nil || n < 1 {
		return def
	}
	return int(n)
}
