package sandbox

import (
	"context"
	"encoding/base64"
	"path"
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/Hollayemi/shp-sub005/internal/logging"
	"github.com/Hollayemi/shp-sub005/internal/provider"

	"go.uber.org/zap"
)

// BinaryMarker prefixes base64-encoded binary payloads in fragment file
// maps. Stored fragments rely on this exact token; do not change it.
const BinaryMarker = "__BASE64__"

// dataURLPattern matches the standard data-URL binary encoding, the
// second accepted form for stored binary payloads.
var dataURLPattern = regexp.MustCompile(`^data:[a-zA-Z0-9.+/-]+;base64,`)

// restoreBatchSize bounds concurrent writes in batch mode.
const restoreBatchSize = 10

// EncodeBinary tags raw bytes with the marker-token scheme.
func EncodeBinary(data []byte) string {
	return BinaryMarker + base64.StdEncoding.EncodeToString(data)
}

// DecodeContent turns a stored file payload into the bytes to write.
// Three-way branch: marker-token base64, data-URL base64, plain UTF-8
// text. Undecodable base64 falls back to writing the payload verbatim.
func DecodeContent(content string) []byte {
	if strings.HasPrefix(content, BinaryMarker) {
		if data, err := base64.StdEncoding.DecodeString(content[len(BinaryMarker):]); err == nil {
			return data
		}
		return []byte(content)
	}
	if loc := dataURLPattern.FindStringIndex(content); loc != nil {
		if data, err := base64.StdEncoding.DecodeString(content[loc[1]:]); err == nil {
			return data
		}
		return []byte(content)
	}
	return []byte(content)
}

// IsBinaryContent reports whether a payload carries either binary tag.
func IsBinaryContent(content string) bool {
	return strings.HasPrefix(content, BinaryMarker) || dataURLPattern.MatchString(content)
}

// EncodeForStorage prepares raw bytes for a fragment file map: valid
// UTF-8 text is stored as-is, anything else gets the marker-token form.
func EncodeForStorage(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	return EncodeBinary(data)
}

// FileRestorer materializes a flat path->content map into a sandbox
// filesystem. Two modes share the contract: Restore writes files one by
// one (small diff sets on templated projects); RestoreBatch pre-creates
// every parent directory in one request and then writes files in
// fixed-size concurrent batches (fresh imports with hundreds of files,
// where directory round-trips dominate latency).
type FileRestorer struct {
	client provider.Client
}

// NewFileRestorer wraps a provider client.
func NewFileRestorer(client provider.Client) *FileRestorer {
	return &FileRestorer{client: client}
}

// Restore writes every file sequentially, ensuring each parent directory
// first. Any failure aborts the operation; partial writes stay in place
// because restoration is idempotent and safe to retry.
func (r *FileRestorer) Restore(ctx context.Context, sandboxID string, files map[string]string) error {
	for _, relPath := range sortedPaths(files) {
		if dir := path.Dir(relPath); dir != "." && dir != "/" {
			if err := r.client.MakeDirs(ctx, sandboxID, []string{dir}); err != nil {
				return &RestorationError{Path: relPath, Cause: err}
			}
		}
		if err := r.client.WriteFile(ctx, sandboxID, relPath, DecodeContent(files[relPath])); err != nil {
			return &RestorationError{Path: relPath, Cause: err}
		}
	}
	return nil
}

// RestoreBatch creates all distinct parent directories in one request,
// then fans out writes in batches of restoreBatchSize.
func (r *FileRestorer) RestoreBatch(ctx context.Context, sandboxID string, files map[string]string) error {
	paths := sortedPaths(files)

	dirSet := make(map[string]bool)
	for _, relPath := range paths {
		if dir := path.Dir(relPath); dir != "." && dir != "/" {
			dirSet[dir] = true
		}
	}
	if len(dirSet) > 0 {
		dirs := make([]string, 0, len(dirSet))
		for dir := range dirSet {
			dirs = append(dirs, dir)
		}
		sort.Strings(dirs)
		if err := r.client.MakeDirs(ctx, sandboxID, dirs); err != nil {
			return &RestorationError{Path: "(directories)", Cause: err}
		}
	}

	for start := 0; start < len(paths); start += restoreBatchSize {
		end := start + restoreBatchSize
		if end > len(paths) {
			end = len(paths)
		}
		if err := r.writeBatch(ctx, sandboxID, paths[start:end], files); err != nil {
			return err
		}
	}

	logging.L().Debug("batch restore complete",
		zap.String("sandbox_id", sandboxID),
		zap.Int("files", len(paths)))
	return nil
}

func (r *FileRestorer) writeBatch(ctx context.Context, sandboxID string, batch []string, files map[string]string) error {
	var wg sync.WaitGroup
	errs := make([]error, len(batch))

	for i, relPath := range batch {
		wg.Add(1)
		go func(i int, relPath string) {
			defer wg.Done()
			if err := r.client.WriteFile(ctx, sandboxID, relPath, DecodeContent(files[relPath])); err != nil {
				errs[i] = &RestorationError{Path: relPath, Cause: err}
			}
		}(i, relPath)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func sortedPaths(files map[string]string) []string {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
