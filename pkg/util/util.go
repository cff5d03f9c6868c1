// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package util

import (
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

func AlignValue[T ~uint64 | ~uint32 | ~uint16](value, align T) T {
	return (value + (align - 1)) & ^(align - 1)
}

func AlignValue4[T ~uint64 | ~uint32](value T) T {
	return AlignValue(value, 4)
}

func AssertFunc(b bool) {
	if !b {
		panic("assertion failed")
	}
}

func FileIsValid(path string) bool {
	stat, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !stat.IsDir()
}

// ParseWidths parses a comma separated list of column widths like "8,4,1".
func ParseWidths(s string) ([]uint16, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("empty column width list")
	}
	parts := strings.Split(s, ",")
	ret := make([]uint16, 0, len(parts))
	for _, part := range parts {
		w, err := strconv.ParseUint(strings.TrimSpace(part), 10, 16)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid column width %q", part)
		}
		ret = append(ret, uint16(w))
	}
	return ret, nil
}

// FormatWidths is the inverse of ParseWidths.
func FormatWidths(widths []uint16) string {
	var sb strings.Builder
	for i, w := range widths {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(int(w)))
	}
	return sb.String()
}
