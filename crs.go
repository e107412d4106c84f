package geowarp

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ctessum/geom/proj"
)

// Definitions for the EPSG codes recognised without an external database.
// UTM zones (326xx / 327xx) are generated on demand.
var epsgDefinitions = map[int]string{
	4326: "+proj=longlat +ellps=WGS84 +datum=WGS84 +no_defs",
	4283: "+proj=longlat +ellps=GRS80 +towgs84=0,0,0,0,0,0,0 +no_defs",
	4269: "+proj=longlat +ellps=GRS80 +datum=NAD83 +no_defs",
	3857: "+proj=merc +a=6378137 +b=6378137 +lat_ts=0.0 +lon_0=0.0 +x_0=0.0 +y_0=0 +k=1.0 +units=m +nadgrids=@null +no_defs",
	3577: "+proj=aea +lat_1=-18 +lat_2=-36 +lat_0=0 +lon_0=132 +x_0=0 +y_0=0 +ellps=GRS80 +towgs84=0,0,0,0,0,0,0 +units=m +no_defs",
}

// CRS is a coordinate reference system. The zero value is an undefined CRS:
// it compares equal only to another undefined CRS and cannot be transformed.
type CRS struct {
	name string // "EPSG:4326" or the normalised proj4 definition
	def  string // normalised proj4 definition
}

// EPSG returns the CRS for an EPSG code
func EPSG(code int) (CRS, error) {
	def, ok := epsgDefinitions[code]
	if !ok {
		switch {
		case code > 32600 && code <= 32660:
			def = fmt.Sprintf("+proj=utm +zone=%d +datum=WGS84 +units=m +no_defs", code-32600)
		case code > 32700 && code <= 32760:
			def = fmt.Sprintf("+proj=utm +zone=%d +south +datum=WGS84 +units=m +no_defs", code-32700)
		default:
			return CRS{}, fmt.Errorf("%w: EPSG:%d is not a known code", ErrInvalidCRS, code)
		}
	}
	return CRS{name: fmt.Sprintf("EPSG:%d", code), def: normaliseProj4(def)}, nil
}

// ParseCRS parses "EPSG:<code>" or a proj4 definition
func ParseCRS(s string) (CRS, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return CRS{}, fmt.Errorf("%w: empty definition", ErrInvalidCRS)
	}

	if strings.HasPrefix(strings.ToUpper(s), "EPSG:") {
		code, err := ParseEPSGCode(s)
		if err != nil {
			return CRS{}, fmt.Errorf("%w: %v", ErrInvalidCRS, err)
		}
		return EPSG(code)
	}

	if _, err := proj.Parse(s); err != nil {
		return CRS{}, fmt.Errorf("%w: %q: %v", ErrInvalidCRS, s, err)
	}
	def := normaliseProj4(s)
	return CRS{name: def, def: def}, nil
}

// MustParseCRS is like ParseCRS but panics on error
func MustParseCRS(s string) CRS {
	c, err := ParseCRS(s)
	if err != nil {
		panic(err)
	}
	return c
}

// ParseEPSGCode extracts the EPSG code from a CRS string such as "EPSG:3857"
func ParseEPSGCode(crs string) (int, error) {
	if len(crs) > 5 && strings.EqualFold(crs[:5], "EPSG:") {
		code, err := strconv.Atoi(crs[5:])
		if err != nil {
			return 0, err
		}
		return code, nil
	}
	return 0, fmt.Errorf("invalid CRS format: %s", crs)
}

// IsZero reports whether the CRS is undefined
func (c CRS) IsZero() bool {
	return c.def == ""
}

// Equal compares two CRSes by their normalised definitions
func (c CRS) Equal(o CRS) bool {
	return c.def == o.def
}

// Proj4 returns the proj4 definition
func (c CRS) Proj4() string {
	return c.def
}

func (c CRS) String() string {
	if c.IsZero() {
		return "<undefined>"
	}
	return c.name
}

// IsGeographic reports whether coordinates are longitude/latitude degrees
func (c CRS) IsGeographic() bool {
	return strings.Contains(c.def, "+proj=longlat") || strings.Contains(c.def, "+proj=latlong")
}

// Transformer returns a point transformer from c to dst. It returns nil,
// meaning identity, when both CRSes are equal.
func (c CRS) Transformer(dst CRS) (proj.Transformer, error) {
	if c.Equal(dst) {
		return nil, nil
	}
	if c.IsZero() || dst.IsZero() {
		return nil, fmt.Errorf("%w: cannot transform from %s to %s", ErrInvalidCRS, c, dst)
	}

	srcSR, err := proj.Parse(c.def)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidCRS, c, err)
	}
	dstSR, err := proj.Parse(dst.def)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidCRS, dst, err)
	}

	tr, err := srcSR.NewTransform(dstSR)
	if err != nil {
		return nil, fmt.Errorf("failed to create transform from %s to %s: %w", c, dst, err)
	}
	return tr, nil
}

// normaliseProj4 sorts the +key=value terms so that equivalent definitions compare equal
func normaliseProj4(def string) string {
	fields := strings.Fields(def)
	sort.Strings(fields)
	return strings.Join(fields, " ")
}
