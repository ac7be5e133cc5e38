package models

import (
	"fmt"
	"net/url"
	"time"
)

// FrameInfo is the public projection of a frame served by the API.
type FrameInfo struct {
	ID             uint    `json:"id"`
	Basename       string  `json:"basename"`
	SiteID         string  `json:"SITEID"`
	TelescopeID    string  `json:"TELID"`
	InstrumentID   string  `json:"INSTRUME"`
	ReductionLevel int     `json:"RLEVEL"`
	DateObs        string  `json:"DATE_OBS"`
	Filter         *string `json:"FILTER"`
	Object         *string `json:"OBJECT"`
	ExpTime        float64 `json:"EXPTIME"`
	ObsType        string  `json:"OBSTYPE"`
	Binning        string  `json:"binning"`
	RelatedFrames  []uint  `json:"related_frames"`
	URL            string  `json:"url"`
}

// URLRoot is the public location of the API, joined like a browser resolves links.
type URLRoot struct {
	HTTPRoot string
	RootURL  string
}

// DownloadURL returns the absolute download link for frame id.
func (r URLRoot) DownloadURL(id uint) string {
	return joinURL(r.HTTPRoot, joinURL(r.RootURL, fmt.Sprintf("frames/%d/download/", id)))
}

func joinURL(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return base + ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return base + ref
	}
	return b.ResolveReference(r).String()
}

// FormatBinning renders a binning as "XxY".
func FormatBinning(x, y int) string {
	return fmt.Sprintf("%dx%d", x, y)
}

// FormatDateObs renders t in UTC with millisecond precision when it has a fractional second.
func FormatDateObs(t time.Time) string {
	t = t.UTC()
	if t.Nanosecond() == 0 {
		return t.Format("2006-01-02T15:04:05Z")
	}
	return t.Format("2006-01-02T15:04:05.000Z")
}

// Info projects the frame for the API. Related must be loaded for related_frames to be filled.
// object and filter are cleared for bias and dark frames here, the stored record keeps them.
func (f *Frame) Info(root URLRoot) FrameInfo {
	info := FrameInfo{
		ID:             f.ID,
		Basename:       f.Basename,
		SiteID:         f.SiteID,
		TelescopeID:    f.TelescopeID,
		InstrumentID:   f.InstrumentID,
		ReductionLevel: f.ReductionLevel,
		DateObs:        FormatDateObs(f.DateObs),
		Filter:         f.FilterName,
		Object:         f.ObjectName,
		ExpTime:        f.ExpTime,
		ObsType:        f.ImageType,
		Binning:        f.Binning(),
		RelatedFrames:  make([]uint, 0, len(f.Related)),
		URL:            root.DownloadURL(f.ID),
	}
	if f.IsCalibration() {
		info.Object = nil
		info.Filter = nil
	}
	for _, r := range f.Related {
		info.RelatedFrames = append(info.RelatedFrames, r.ID)
	}
	return info
}

// FrameFacets lists the distinct values of the filterable fields of a frame selection.
type FrameFacets struct {
	ImageTypes  []string `json:"imagetypes"`
	Sites       []string `json:"sites"`
	Telescopes  []string `json:"telescopes"`
	Instruments []string `json:"instruments"`
	Filters     []string `json:"filters"`
	Binnings    []string `json:"binnings"`
}
