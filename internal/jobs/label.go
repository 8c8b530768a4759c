package jobs

import (
	"path"
	"strings"
	"unicode/utf8"
)

const (
	// UntitledLabel names a submission that arrived without a filename.
	UntitledLabel = "untitled"

	maxLabelBytes          = 255
	invalidCharReplacement = "_"
)

var labelReplacer = strings.NewReplacer(
	"<", invalidCharReplacement,
	">", invalidCharReplacement,
	":", invalidCharReplacement,
	"\"", invalidCharReplacement,
	"|", invalidCharReplacement,
	"?", invalidCharReplacement,
	"*", invalidCharReplacement,
	"\x00", invalidCharReplacement,
)

// SanitizeLabel reduces a client-supplied filename to a safe display label:
// the base name only, without characters that most filesystems reject,
// capped at 255 bytes.
func SanitizeLabel(filename string) string {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(filename), "\\", "/"))
	if base == "." || base == "/" {
		return UntitledLabel
	}

	label := strings.TrimSpace(labelReplacer.Replace(base))
	if label == "" {
		return UntitledLabel
	}

	for len(label) > maxLabelBytes {
		_, size := utf8.DecodeLastRuneInString(label)
		label = label[:len(label)-size]
	}

	return label
}
