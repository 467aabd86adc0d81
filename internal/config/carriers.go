package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"gtfs-live/internal/gtfs"
)

// Carrier is one entry of the carriers file.
type Carrier struct {
	Code      string             `yaml:"code" validate:"required,alphanum,max=16"`
	Name      string             `yaml:"name" validate:"required"`
	OnestopID string             `yaml:"onestopId" validate:"required_without=FeedURL"`
	FeedURL   string             `yaml:"feedUrl" validate:"omitempty,url"`
	Timezone  string             `yaml:"timezone" validate:"required,timezone"`
	Speeds    map[string]float64 `yaml:"speeds" validate:"omitempty,dive,keys,oneof=tram metro train bus,endkeys,gt=0"`
}

// Carriers is the parsed carriers file.
type Carriers struct {
	Carriers []Carrier `yaml:"carriers" validate:"required,min=1,unique=Code,dive"`
}

// LoadCarriers reads and validates a carriers file.
func LoadCarriers(path string) (*Carriers, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseCarriers(data)
}

func ParseCarriers(data []byte) (*Carriers, error) {
	var c Carriers
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse carriers: %w", err)
	}
	if err := validator.New().Struct(c); err != nil {
		return nil, fmt.Errorf("invalid carriers: %w", err)
	}
	return &c, nil
}

// Codes lists carrier codes in file order.
func (c *Carriers) Codes() []string {
	codes := make([]string, len(c.Carriers))
	for i, cr := range c.Carriers {
		codes[i] = cr.Code
	}
	return codes
}

// Find returns the carrier with code.
func (c *Carriers) Find(code string) (Carrier, bool) {
	for _, cr := range c.Carriers {
		if cr.Code == code {
			return cr, true
		}
	}
	return Carrier{}, false
}

// OnestopIDs maps carrier code to transit.land onestop id.
func (c *Carriers) OnestopIDs() map[string]string {
	m := make(map[string]string)
	for _, cr := range c.Carriers {
		if cr.OnestopID != "" {
			m[cr.Code] = cr.OnestopID
		}
	}
	return m
}

// FeedURLs maps carrier code to a fixed feed url.
func (c *Carriers) FeedURLs() map[string]string {
	m := make(map[string]string)
	for _, cr := range c.Carriers {
		if cr.FeedURL != "" {
			m[cr.Code] = cr.FeedURL
		}
	}
	return m
}

func (c Carrier) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

var speedClasses = map[string]gtfs.RouteType{
	"tram":  gtfs.RouteTypeTram,
	"metro": gtfs.RouteTypeMetro,
	"train": gtfs.RouteTypeRail,
	"bus":   gtfs.RouteTypeBus,
}

// SpeedTable returns the carrier's km/h per route type, or nil when the file
// sets none.
func (c Carrier) SpeedTable() map[gtfs.RouteType]float64 {
	if len(c.Speeds) == 0 {
		return nil
	}
	m := make(map[gtfs.RouteType]float64, len(c.Speeds))
	for k, v := range c.Speeds {
		m[speedClasses[k]] = v
	}
	return m
}
