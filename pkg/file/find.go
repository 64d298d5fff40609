package file

import (
	"os"
	"path/filepath"
	"sort"
	"time"
)

type Info struct {
	Path    string
	ModTime time.Time
}

// ListDirsByModTime lists the direct subdirectories of dir, newest first.
// A missing dir yields an empty list.
func ListDirsByModTime(dir string) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	ret := make([]Info, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		ret = append(ret, Info{
			Path:    filepath.Join(dir, entry.Name()),
			ModTime: info.ModTime(),
		})
	}

	sort.SliceStable(ret, func(i, j int) bool {
		return ret[i].ModTime.After(ret[j].ModTime)
	})
	return ret, nil
}

// CountFiles counts regular files with the given extension directly under dir.
// A missing dir counts as zero.
func CountFiles(dir, ext string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	n := 0
	for _, entry := range entries {
		if entry.Type().IsRegular() && filepath.Ext(entry.Name()) == ext {
			n++
		}
	}
	return n, nil
}
