// Package ports finds candidate basestation serial ports and picks one.
package ports

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/charmbracelet/huh"
	"go.bug.st/serial/enumerator"
)

// DefaultPatterns match the names the basestation's CDC-ACM console gets on
// macOS and Linux.
var DefaultPatterns = []string{"usbmodem", "ttyACM", "ttyUSB"}

var (
	ErrNoPorts      = errors.New("no serial ports found")
	ErrNoneSelected = errors.New("no serial port selected")
)

// Port is an enumerated serial endpoint.
type Port struct {
	Name         string
	Product      string
	SerialNumber string
	VID          string
	PID          string
	USB          bool
}

// Label is a one-line description for menus and listings.
func (p Port) Label() string {
	var extra []string
	if p.Product != "" {
		extra = append(extra, p.Product)
	}
	if p.USB && p.VID != "" {
		extra = append(extra, fmt.Sprintf("%s:%s", p.VID, p.PID))
	}
	if p.SerialNumber != "" {
		extra = append(extra, "s/n "+p.SerialNumber)
	}
	if len(extra) == 0 {
		return p.Name
	}
	return fmt.Sprintf("%s (%s)", p.Name, strings.Join(extra, ", "))
}

// Lister enumerates the serial ports present on the host.
type Lister func() ([]*enumerator.PortDetails, error)

// Finder lists ports whose names match any of its patterns.
type Finder struct {
	list     Lister
	patterns []*regexp.Regexp
}

// NewFinder compiles patterns. An empty list means DefaultPatterns.
func NewFinder(patterns []string, list Lister) (*Finder, error) {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	if list == nil {
		list = enumerator.GetDetailedPortsList
	}

	f := &Finder{list: list}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid port pattern %q: %w", p, err)
		}
		f.patterns = append(f.patterns, re)
	}
	return f, nil
}

// List returns matching ports sorted by name.
func (f *Finder) List() ([]Port, error) {
	details, err := f.list()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}

	seen := make(map[string]bool)
	var out []Port
	for _, d := range details {
		if d == nil || seen[d.Name] || !f.match(d.Name) {
			continue
		}
		seen[d.Name] = true
		out = append(out, Port{
			Name:         d.Name,
			Product:      d.Product,
			SerialNumber: d.SerialNumber,
			VID:          d.VID,
			PID:          d.PID,
			USB:          d.IsUSB,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *Finder) match(name string) bool {
	for _, re := range f.patterns {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// Selector asks the operator to pick one of several ports.
type Selector func(ports []Port) (string, error)

// Choose resolves the port to open. An explicit override always wins; a single
// candidate is taken without asking; otherwise sel decides.
func Choose(ports []Port, override string, sel Selector) (string, error) {
	if override != "" {
		return override, nil
	}

	switch len(ports) {
	case 0:
		return "", ErrNoPorts
	case 1:
		return ports[0].Name, nil
	}

	if sel == nil {
		return "", fmt.Errorf("%w: %d candidates, pass --port", ErrNoneSelected, len(ports))
	}
	name, err := sel(ports)
	if err != nil {
		return "", err
	}
	if name == "" {
		return "", ErrNoneSelected
	}
	return name, nil
}

// MenuSelector shows an interactive list of ports.
func MenuSelector() Selector {
	return func(ports []Port) (string, error) {
		options := make([]huh.Option[string], 0, len(ports))
		for _, p := range ports {
			options = append(options, huh.NewOption(p.Label(), p.Name))
		}

		var choice string
		err := huh.NewSelect[string]().
			Title("Select the basestation port").
			Options(options...).
			Value(&choice).
			Run()
		if err != nil {
			if errors.Is(err, huh.ErrUserAborted) {
				return "", ErrNoneSelected
			}
			return "", err
		}
		return choice, nil
	}
}
