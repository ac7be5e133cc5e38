package services

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/camden-git/framearchive/fitsutil"
	"github.com/camden-git/framearchive/models"
)

// headerField copies one optional header keyword onto a frame.
type headerField struct {
	key string
	set func(f *models.Frame, h *fitsutil.Header) bool
}

func stringField(key string, dst func(*models.Frame) *string) headerField {
	return headerField{key: key, set: func(f *models.Frame, h *fitsutil.Header) bool {
		v, ok := h.String(key)
		if ok {
			*dst(f) = v
		}
		return ok
	}}
}

func optionalStringField(key string, dst func(*models.Frame) **string) headerField {
	return headerField{key: key, set: func(f *models.Frame, h *fitsutil.Header) bool {
		v, ok := h.String(key)
		if ok {
			*dst(f) = &v
		}
		return ok
	}}
}

func floatField(key string, dst func(*models.Frame) **float64) headerField {
	return headerField{key: key, set: func(f *models.Frame, h *fitsutil.Header) bool {
		v, ok := h.Float(key)
		if ok {
			*dst(f) = &v
		}
		return ok
	}}
}

func intField(key string, dst func(*models.Frame) *int) headerField {
	return headerField{key: key, set: func(f *models.Frame, h *fitsutil.Header) bool {
		v, ok := h.Int(key)
		if ok {
			*dst(f) = v
		}
		return ok
	}}
}

// optionalFields are copied when present. a missing key is logged and skipped.
var optionalFields = []headerField{
	stringField("SITEID", func(f *models.Frame) *string { return &f.SiteID }),
	stringField("TELID", func(f *models.Frame) *string { return &f.TelescopeID }),
	stringField("INSTRUME", func(f *models.Frame) *string { return &f.InstrumentID }),
	stringField("IMAGETYP", func(f *models.Frame) *string { return &f.ImageType }),
	floatField("TEL-RA", func(f *models.Frame) **float64 { return &f.RaDeg }),
	floatField("TEL-DEC", func(f *models.Frame) **float64 { return &f.DecDeg }),
	floatField("TEL-ALT", func(f *models.Frame) **float64 { return &f.TelAlt }),
	floatField("TEL-AZ", func(f *models.Frame) **float64 { return &f.TelAz }),
	floatField("TEL-FOCU", func(f *models.Frame) **float64 { return &f.TelFocus }),
	floatField("SUNALT", func(f *models.Frame) **float64 { return &f.SunAlt }),
	floatField("SUNDIST", func(f *models.Frame) **float64 { return &f.SunDist }),
	floatField("MOONALT", func(f *models.Frame) **float64 { return &f.MoonAlt }),
	floatField("MOONDIST", func(f *models.Frame) **float64 { return &f.MoonDist }),
	floatField("MOONFRAC", func(f *models.Frame) **float64 { return &f.MoonFrac }),
	intField("XORGSUBF", func(f *models.Frame) *int { return &f.XOffset }),
	intField("YORGSUBF", func(f *models.Frame) *int { return &f.YOffset }),
	optionalStringField("OBJECT", func(f *models.Frame) **string { return &f.ObjectName }),
	optionalStringField("FILTER", func(f *models.Frame) **string { return &f.FilterName }),
	floatField("DATAMEAN", func(f *models.Frame) **float64 { return &f.DataMean }),
	optionalStringField("REQNUM", func(f *models.Frame) **string { return &f.RequestNumber }),
}

// relatedKeys name frames a product was derived from, as does every key starting with relatedPrefix.
const relatedPrefix = "L1AVG"

var relatedKeys = map[string]bool{"L1BIAS": true, "L1DARK": true, "L1FLAT": true, "L1RAW": true}

// applyHeader populates frame from the science header.
func applyHeader(frame *models.Frame, h *fitsutil.Header, log zerolog.Logger) error {
	dateObs, ok := h.Lookup("DATE-OBS")
	if !ok {
		return ErrMalformed.New("could not find DATE-OBS in FITS header")
	}
	t, err := fitsutil.ParseTime(dateObs)
	if err != nil {
		return ErrMalformed.New("invalid DATE-OBS: %v", err)
	}
	frame.DateObs = t

	dayObs, ok := h.Lookup("DAY-OBS")
	if !ok {
		return ErrMalformed.New("could not find DAY-OBS in FITS header")
	}
	if frame.Night, err = fitsutil.ParseDate(dayObs); err != nil {
		return ErrMalformed.New("invalid DAY-OBS: %v", err)
	}

	xb, okX := h.Int("XBINNING")
	yb, okY := h.Int("YBINNING")
	if okX && okY {
		frame.XBinning, frame.YBinning = xb, yb
	} else {
		log.Warn().Msg("missing or invalid XBINNING and/or YBINNING in FITS header")
	}
	if frame.XBinning == 0 {
		frame.XBinning = 1
	}
	if frame.YBinning == 0 {
		frame.YBinning = 1
	}

	for _, field := range optionalFields {
		if !field.set(frame, h) {
			log.Debug().Str("key", field.key).Msg("header keyword not present, skipping")
		}
	}

	expTime, ok := h.Float("EXPTIME")
	if !ok {
		return ErrMalformed.New("could not find EXPTIME in FITS header")
	}
	frame.ExpTime = expTime

	if frame.Width, ok = h.Int("NAXIS1"); !ok {
		return ErrMalformed.New("could not find NAXIS1 in FITS header")
	}
	if frame.Height, ok = h.Int("NAXIS2"); !ok {
		return ErrMalformed.New("could not find NAXIS2 in FITS header")
	}

	frame.SetPointing(frame.RaDeg, frame.DecDeg)

	frame.ReductionLevel = 0
	if level, ok := h.Int("RLEVEL"); ok {
		if level < 0 {
			return ErrMalformed.New("negative RLEVEL %d", level)
		}
		frame.ReductionLevel = level
	}
	return nil
}

// relatedBasenames returns the basenames referenced by calibration keys, in header order.
func relatedBasenames(h *fitsutil.Header) []string {
	var names []string
	seen := map[string]bool{}
	for _, c := range h.Cards() {
		if !relatedKeys[c.Key] && !strings.HasPrefix(c.Key, relatedPrefix) {
			continue
		}
		name := fitsutil.ValueString(c.Value)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}
