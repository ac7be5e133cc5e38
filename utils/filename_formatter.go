package utils

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/zeebo/errs"

	"github.com/camden-git/framearchive/fitsutil"
)

var (
	// ErrMissingKey is returned when a placeholder key is neither overridden nor in the header.
	ErrMissingKey = errs.Class("missing key")
	// ErrUnknownFunction is returned for a placeholder function that does not exist.
	ErrUnknownFunction = errs.Class("unknown formatter function")
)

// HeaderSource is anything keyed like a FITS header.
type HeaderSource interface {
	Lookup(key string) (any, bool)
}

// MapSource adapts a plain map to HeaderSource.
type MapSource map[string]any

func (m MapSource) Lookup(key string) (any, bool) {
	v, ok := m[key]
	return v, ok
}

var placeholderPattern = regexp.MustCompile(`\{([\w-]+)(?:\|([\w-]+)((?::[^:{}|]*)*))?\}`)

// object-like image types that carry a filter in their name
var filteredImageTypes = map[string]bool{"light": true, "object": true, "flat": true}

type formatFunc func(f *FilenameFormatter, src HeaderSource, key string, args []string) (string, error)

var formatFuncs map[string]formatFunc

func init() {
	formatFuncs = map[string]formatFunc{
		"lower":  formatLower,
		"time":   formatTime,
		"date":   formatDate,
		"filter": formatFilter,
		"string": formatString,
	}
}

// FilenameFormatter expands templates like "{SITEID}/{DATE-OBS|date:}" against a header.
// values in keys take precedence over the header.
type FilenameFormatter struct {
	format string
	keys   map[string]any
}

// NewFilenameFormatter returns nil when format is empty, meaning no formatting is configured.
func NewFilenameFormatter(format string, keys map[string]any) *FilenameFormatter {
	if format == "" {
		return nil
	}
	if keys == nil {
		keys = map[string]any{}
	}
	return &FilenameFormatter{format: format, keys: keys}
}

// Template returns the raw template.
func (f *FilenameFormatter) Template() string {
	return f.format
}

// Format expands every placeholder in the template.
func (f *FilenameFormatter) Format(src HeaderSource) (string, error) {
	matches := placeholderPattern.FindAllStringSubmatchIndex(f.format, -1)
	if len(matches) == 0 {
		return f.format, nil
	}

	var sb strings.Builder
	last := 0
	for _, m := range matches {
		sb.WriteString(f.format[last:m[0]])
		last = m[1]

		key := f.format[m[2]:m[3]]
		if m[4] < 0 {
			v, err := f.value(src, key)
			if err != nil {
				return "", err
			}
			sb.WriteString(fitsutil.ValueString(v))
			continue
		}

		name := f.format[m[4]:m[5]]
		var args []string
		if m[6] >= 0 && m[7] > m[6] {
			args = strings.Split(f.format[m[6]+1:m[7]], ":")
		}
		fn, ok := formatFuncs[name]
		if !ok {
			return "", ErrUnknownFunction.New("%s", name)
		}
		out, err := fn(f, src, key, args)
		if err != nil {
			return "", err
		}
		sb.WriteString(out)
	}
	sb.WriteString(f.format[last:])
	return sb.String(), nil
}

func (f *FilenameFormatter) value(src HeaderSource, key string) (any, error) {
	if v, ok := f.keys[key]; ok {
		return v, nil
	}
	if src != nil {
		if v, ok := src.Lookup(key); ok {
			return v, nil
		}
	}
	return nil, ErrMissingKey.New("%s", key)
}

// arg returns args[i], or def when it was not given or left empty.
func arg(args []string, i int, def string) string {
	if i < len(args) && args[i] != "" {
		return args[i]
	}
	return def
}

func formatLower(f *FilenameFormatter, src HeaderSource, key string, _ []string) (string, error) {
	v, err := f.value(src, key)
	if err != nil {
		return "", err
	}
	return strings.ToLower(fitsutil.ValueString(v)), nil
}

func timeValue(v any) (time.Time, error) {
	if t, ok := v.(time.Time); ok {
		return t.UTC(), nil
	}
	return fitsutil.ParseTime(v)
}

func formatTime(f *FilenameFormatter, src HeaderSource, key string, args []string) (string, error) {
	v, err := f.value(src, key)
	if err != nil {
		return "", err
	}
	t, err := timeValue(v)
	if err != nil {
		return "", fmt.Errorf("failed to format %s as time: %w", key, err)
	}
	d := arg(args, 0, "-")
	return t.Format("15" + d + "04" + d + "05"), nil
}

func formatDate(f *FilenameFormatter, src HeaderSource, key string, args []string) (string, error) {
	v, err := f.value(src, key)
	if err != nil {
		return "", err
	}
	t, err := timeValue(v)
	if err != nil {
		return "", fmt.Errorf("failed to format %s as date: %w", key, err)
	}
	d := arg(args, 0, "-")
	return t.Format("2006" + d + "01" + d + "02"), nil
}

func formatFilter(f *FilenameFormatter, src HeaderSource, key string, args []string) (string, error) {
	typeKey := arg(args, 0, "IMAGETYP")
	prefix := arg(args, 1, "_")

	var imageType any
	if src != nil {
		imageType, _ = src.Lookup(typeKey)
	}
	if imageType == nil {
		return "", ErrMissingKey.New("%s", typeKey)
	}
	if !filteredImageTypes[strings.ToLower(fitsutil.ValueString(imageType))] {
		return "", nil
	}

	v, err := f.value(src, key)
	if err != nil {
		return "", err
	}
	return prefix + fitsutil.ValueString(v), nil
}

func formatString(f *FilenameFormatter, src HeaderSource, key string, args []string) (string, error) {
	v, err := f.value(src, key)
	if err != nil {
		return "", err
	}
	format := arg(args, 0, "s")
	if !strings.HasPrefix(format, "%") {
		format = "%" + format
	}

	switch format[len(format)-1] {
	case 'i':
		format = format[:len(format)-1] + "d"
		fallthrough
	case 'd', 'x', 'X', 'o':
		n, ok := intOf(v)
		if !ok {
			return "", fmt.Errorf("value of %s is not an integer: %v", key, v)
		}
		return fmt.Sprintf(format, n), nil
	case 'f', 'F', 'e', 'E', 'g', 'G':
		x, ok := fitsutil.ToFloat(v)
		if !ok {
			return "", fmt.Errorf("value of %s is not a number: %v", key, v)
		}
		return fmt.Sprintf(format, x), nil
	default:
		return fmt.Sprintf(format, fitsutil.ValueString(v)), nil
	}
}

func intOf(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	}
	f, ok := fitsutil.ToFloat(v)
	if !ok {
		return 0, false
	}
	return int64(math.Trunc(f)), true
}
