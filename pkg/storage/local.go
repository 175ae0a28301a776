package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"mdstore/pkg/data"
)

// DateDirFormat is the layout of per-date directory names.
const DateDirFormat = "2006_01_02"

// BinExtension is the day-file extension for the binary format.
const BinExtension = ".bin"

// LocalDrive stores day files under a root directory using a
// deterministic layout:
//
//	<root>/<first char of symbol>/<symbol@board>/<yyyy_mm_dd>/<datatype file>.bin
//
// External tools can locate files by replicating this rule; this engine
// is the only supported writer.
type LocalDrive struct {
	root string
}

// NewLocalDrive opens (creating if needed) a local day-file root.
func NewLocalDrive(root string) (*LocalDrive, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("storage: empty local drive root")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, wrapIO("mkdir", root, err)
	}
	return &LocalDrive{root: root}, nil
}

// Root returns the drive's root directory.
func (d *LocalDrive) Root() string { return d.root }

func (d *LocalDrive) securityPath(id data.SecurityID) string {
	folder := sanitizeName(id.String())
	prefix := strings.ToLower(folder[:1])
	return filepath.Join(d.root, prefix, folder)
}

// FilePath builds the full day-file path for a stream and date.
func (d *LocalDrive) FilePath(key data.StreamKey, date time.Time) string {
	return filepath.Join(
		d.securityPath(key.Security),
		date.UTC().Format(DateDirFormat),
		data.FileName(key.TypeArg())+BinExtension,
	)
}

// ListSecurities implements Drive by scanning the two-level directory
// layout for instrument folders.
func (d *LocalDrive) ListSecurities(ctx context.Context) ([]data.SecurityID, error) {
	prefixes, err := os.ReadDir(d.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, wrapIO("readdir", d.root, err)
	}
	var ids []data.SecurityID
	for _, p := range prefixes {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !p.IsDir() {
			continue
		}
		secs, err := os.ReadDir(filepath.Join(d.root, p.Name()))
		if err != nil {
			return nil, wrapIO("readdir", filepath.Join(d.root, p.Name()), err)
		}
		for _, s := range secs {
			if !s.IsDir() {
				continue
			}
			id, err := data.ParseSecurityID(s.Name())
			if err != nil {
				continue
			}
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

// GetAvailableDataTypes implements Drive by scanning date directories for
// distinct day-file names.
func (d *LocalDrive) GetAvailableDataTypes(ctx context.Context, id data.SecurityID) ([]data.TypeArg, error) {
	secPath := d.securityPath(id)
	dateDirs, err := os.ReadDir(secPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, wrapIO("readdir", secPath, err)
	}
	seen := make(map[string]data.TypeArg)
	for _, dir := range dateDirs {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !dir.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(secPath, dir.Name()))
		if err != nil {
			return nil, wrapIO("readdir", filepath.Join(secPath, dir.Name()), err)
		}
		for _, f := range files {
			name := strings.TrimSuffix(f.Name(), BinExtension)
			if name == f.Name() {
				continue
			}
			if _, ok := seen[name]; ok {
				continue
			}
			ta, err := data.ParseFileName(name)
			if err != nil {
				continue
			}
			seen[name] = ta
		}
	}
	types := make([]data.TypeArg, 0, len(seen))
	for _, ta := range seen {
		types = append(types, ta)
	}
	sort.Slice(types, func(i, j int) bool {
		if types[i].Type != types[j].Type {
			return types[i].Type < types[j].Type
		}
		return fmt.Sprint(types[i].Arg) < fmt.Sprint(types[j].Arg)
	})
	return types, nil
}

// GetDates implements Drive.
func (d *LocalDrive) GetDates(ctx context.Context, key data.StreamKey) ([]time.Time, error) {
	secPath := d.securityPath(key.Security)
	dateDirs, err := os.ReadDir(secPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, wrapIO("readdir", secPath, err)
	}
	fileName := data.FileName(key.TypeArg()) + BinExtension
	var dates []time.Time
	for _, dir := range dateDirs {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		date, err := time.ParseInLocation(DateDirFormat, dir.Name(), time.UTC)
		if err != nil {
			continue
		}
		if _, err := os.Stat(filepath.Join(secPath, dir.Name(), fileName)); err == nil {
			dates = append(dates, date)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates, nil
}

// LoadStream implements Drive. An absent file is not an error, just an
// empty result.
func (d *LocalDrive) LoadStream(ctx context.Context, key data.StreamKey, date time.Time) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	path := d.FilePath(key, date)
	payload, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, wrapIO("read", path, err)
	}
	return payload, true, nil
}

// SaveStream implements Drive. The payload is written to a temp file in
// the target directory and renamed into place, so concurrent readers see
// either the old or the fully written new file, never a partial one.
func (d *LocalDrive) SaveStream(ctx context.Context, key data.StreamKey, date time.Time, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := d.FilePath(key, date)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return wrapIO("mkdir", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return wrapIO("create", dir, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return wrapIO("write", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return wrapIO("close", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return wrapIO("rename", path, err)
	}
	return nil
}

// DeleteFile implements Drive. The date directory is removed as well once
// it holds no other streams.
func (d *LocalDrive) DeleteFile(ctx context.Context, key data.StreamKey, date time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := d.FilePath(key, date)
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return wrapIO("remove", path, err)
	}
	// Best effort cleanup of the now possibly empty date directory.
	_ = os.Remove(filepath.Dir(path))
	return nil
}

func sanitizeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, s)
}
