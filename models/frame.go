package models

import (
	"math"
	"time"
)

// Frame represents one archived exposure in the database using GORM.
// It corresponds to the 'frames' table.
type Frame struct {
	ID       uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Basename string `gorm:"size:50;not null;uniqueIndex" json:"basename"`
	Path     string `gorm:"size:100;not null" json:"path"` // directory relative to the archive root

	SiteID         string  `gorm:"size:10;not null;index" json:"site_id"`
	TelescopeID    string  `gorm:"size:5;not null;index" json:"telescope_id"`
	InstrumentID   string  `gorm:"size:5;not null;index" json:"instrument_id"`
	ImageType      string  `gorm:"size:15;not null;index" json:"image_type"`
	ReductionLevel int     `gorm:"not null;default:0;index" json:"reduction_level"`
	FilterName     *string `gorm:"size:20;index" json:"filter_name,omitempty"` // Nullable
	ObjectName     *string `gorm:"size:50;index" json:"object_name,omitempty"` // Nullable
	RequestNumber  *string `gorm:"size:30" json:"request_number,omitempty"`    // Nullable

	Width    int `gorm:"not null" json:"width"`  // binned pixels
	Height   int `gorm:"not null" json:"height"` // binned pixels
	XBinning int `gorm:"not null;default:1" json:"x_binning"`
	YBinning int `gorm:"not null;default:1" json:"y_binning"`
	XOffset  int `gorm:"not null;default:0" json:"x_offset"` // unbinned pixels
	YOffset  int `gorm:"not null;default:0" json:"y_offset"` // unbinned pixels

	DateObs time.Time `gorm:"not null;index" json:"date_obs"`         // always UTC
	Night   string    `gorm:"size:10;not null;index" json:"night"` // YYYY-MM-DD

	RaDeg  *float64 `gorm:"" json:"ra_deg,omitempty"`
	DecDeg *float64 `gorm:"" json:"dec_deg,omitempty"`
	VecX   *float64 `gorm:"index" json:"vec_x,omitempty"`
	VecY   *float64 `gorm:"index" json:"vec_y,omitempty"`
	VecZ   *float64 `gorm:"index" json:"vec_z,omitempty"`

	TelAlt   *float64 `gorm:"" json:"tel_alt,omitempty"`
	TelAz    *float64 `gorm:"" json:"tel_az,omitempty"`
	TelFocus *float64 `gorm:"" json:"tel_focus,omitempty"`
	SunAlt   *float64 `gorm:"" json:"sun_alt,omitempty"`
	SunDist  *float64 `gorm:"" json:"sun_dist,omitempty"`
	MoonAlt  *float64 `gorm:"" json:"moon_alt,omitempty"`
	MoonDist *float64 `gorm:"" json:"moon_dist,omitempty"`
	MoonFrac *float64 `gorm:"" json:"moon_frac,omitempty"`
	ExpTime  float64  `gorm:"not null;index" json:"exp_time"`
	DataMean *float64 `gorm:"" json:"data_mean,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relationships. frames this one was derived from; the inverse is not implied.
	Related []*Frame `gorm:"many2many:frame_related;joinForeignKey:FrameID;joinReferences:RelatedID;constraint:OnDelete:CASCADE" json:"related,omitempty"`
}

// TableName explicitly sets the table name for GORM.
func (Frame) TableName() string {
	return "frames"
}

// SkyVector converts a pointing in degrees to a unit vector.
func SkyVector(raDeg, decDeg float64) (x, y, z float64) {
	ra := raDeg * math.Pi / 180
	dec := decDeg * math.Pi / 180
	return math.Cos(dec) * math.Cos(ra), math.Cos(dec) * math.Sin(ra), math.Sin(dec)
}

// SetPointing stores ra/dec and keeps the sky vector in step with them.
// the vector is only set when both coordinates are known.
func (f *Frame) SetPointing(raDeg, decDeg *float64) {
	f.RaDeg, f.DecDeg = raDeg, decDeg
	if raDeg == nil || decDeg == nil {
		f.VecX, f.VecY, f.VecZ = nil, nil, nil
		return
	}
	x, y, z := SkyVector(*raDeg, *decDeg)
	f.VecX, f.VecY, f.VecZ = &x, &y, &z
}

// IsCalibration reports whether the frame is a bias or dark, which carry no object or filter.
func (f *Frame) IsCalibration() bool {
	return f.ImageType == "bias" || f.ImageType == "dark"
}

// Binning returns the binning as "XxY".
func (f *Frame) Binning() string {
	return FormatBinning(f.XBinning, f.YBinning)
}
