package storage

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"
	"unicode"
)

const (
	partitionLayout = "2006-01-02"
	stampLayout     = "20060102-150405"
	fallbackStem    = "artifact"
)

// Key is a relative storage key: a date partition directory and a disambiguated filename.
type Key struct {
	Dir  string
	Name string
}

func (k Key) String() string {
	if k.Dir == "" {
		return k.Name
	}
	return path.Join(k.Dir, k.Name)
}

// Allocator derives collision-free, date partitioned keys and makes sure the partition exists.
type Allocator struct {
	storage FileStorage
	suffix  SuffixGenerator
}

func NewAllocator(fs FileStorage, suffix SuffixGenerator) *Allocator {
	if suffix == nil {
		suffix = RandomSuffix{}
	}
	return &Allocator{storage: fs, suffix: suffix}
}

// Allocate returns baseDir/<YYYY-MM-DD>/<stem>-<YYYYMMDD-HHmmss>-<suffix><ext> for moment.
func (a *Allocator) Allocate(ctx context.Context, baseDir, desiredFilename string, moment time.Time) (Key, error) {
	return a.AllocateFor(ctx, baseDir, desiredFilename, moment, nil)
}

// AllocateFor is Allocate with the artifact bytes available to content-derived suffix strategies.
func (a *Allocator) AllocateFor(ctx context.Context, baseDir, desiredFilename string, moment time.Time, content []byte) (Key, error) {
	dir := moment.Format(partitionLayout)
	if strings.Trim(baseDir, "/") != "" {
		cleaned, err := CleanKey(path.Join(strings.Trim(baseDir, "/"), dir))
		if err != nil {
			return Key{}, fmt.Errorf("allocate %q: %w", desiredFilename, err)
		}
		dir = cleaned
	}

	stem, ext := SplitFilename(desiredFilename)
	name := fmt.Sprintf("%s-%s-%s%s", stem, moment.Format(stampLayout), a.suffix.Suffix(content), ext)

	if err := a.storage.EnsureDirectory(ctx, dir); err != nil {
		return Key{}, fmt.Errorf("prepare partition %q: %w", dir, err)
	}
	return Key{Dir: dir, Name: name}, nil
}

// SplitFilename splits at the last dot; a name without a dot, or whose last dot is
// the first character, is all stem. Directory components are dropped so a callback
// filename cannot leave its partition. Otherwise the name is kept as given; control
// characters become '_'.
func SplitFilename(filename string) (stem, ext string) {
	filename = strings.ReplaceAll(filename, "\\", "/")
	if i := strings.LastIndex(filename, "/"); i >= 0 {
		filename = filename[i+1:]
	}
	filename = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return '_'
		}
		return r
	}, filename)

	stem = filename
	if i := strings.LastIndex(filename, "."); i > 0 {
		stem, ext = filename[:i], filename[i:]
	}
	if stem == "" {
		stem = fallbackStem
	}
	return stem, ext
}
