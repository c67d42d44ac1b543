package helper

import (
	"fmt"
	"path/filepath"
)

// FilePathWithSharding buckets fn under two directory levels derived from
// its own leading characters (fn[0:1] then fn[0:2]), keeping any single
// directory from accumulating too many entries for content-addressed
// storage.
func FilePathWithSharding(fn string) (string, error) {
	if len(fn) < 3 {
		return "", fmt.Errorf("the file name %q is less than 3 characters long", fn)
	}

	return filepath.Join(fn[0:1], fn[0:2], fn), nil
}
