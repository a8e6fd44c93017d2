package scanner

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/scorectl/internal/device"
)

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// Found is a device seen during a scan, updated with every advertisement.
type Found struct {
	Address     string    `json:"address"`
	Name        string    `json:"name,omitempty"`
	RSSI        int       `json:"rssi"`
	Services    []string  `json:"services,omitempty"`
	Connectable bool      `json:"connectable"`
	LastSeen    time.Time `json:"last_seen"`
}

// Scanner collects advertisements into a deduplicated device list
type Scanner struct {
	source  device.Scanner
	logger  *logrus.Logger
	now     func() time.Time
	devices *hashmap.Map[string, *Found]
}

// ScanOptions configures scanning behavior
type ScanOptions struct {
	Duration        time.Duration
	DuplicateFilter bool
	ServiceUUIDs    []string
	AllowList       []string
	BlockList       []string
	// OnFound is called for the first advertisement of every included device.
	OnFound func(Found)
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration:        10 * time.Second,
		DuplicateFilter: true,
	}
}

// NewScanner creates a scanner reading advertisements from source
func NewScanner(source device.Scanner, logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scanner{source: source, logger: logger, now: time.Now}
}

// Scan listens for opts.Duration, or until ctx ends, and returns the devices
// sorted by signal strength.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions, progressCallback ProgressCallback) ([]Found, error) {
	if opts == nil {
		opts = DefaultScanOptions()
	}
	if progressCallback == nil {
		progressCallback = func(string) {} // No-op callback
	}
	filter := *opts
	filter.ServiceUUIDs = device.NormalizeUUIDs(opts.ServiceUUIDs)

	s.devices = hashmap.New[string, *Found]()
	s.logger.WithField("duration", opts.Duration).Info("Starting BLE scan...")
	progressCallback("Scanning")

	scanCtx := ctx
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}
	err := s.source.Scan(scanCtx, !opts.DuplicateFilter, func(adv device.Advertisement) {
		s.handleAdvertisement(adv, &filter)
	})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.logger.WithField("device_count", s.devices.Len()).Info("BLE scan completed")
	progressCallback("Processing results")
	return s.snapshot(), nil
}

// handleAdvertisement updates existing or adds a new device
func (s *Scanner) handleAdvertisement(adv device.Advertisement, opts *ScanOptions) {
	found, existing := s.devices.Get(adv.Address)
	if !existing {
		if !shouldIncludeDevice(adv, opts) {
			return
		}
		found, existing = s.devices.GetOrInsert(adv.Address, &Found{Address: adv.Address})
	}

	// Advertisements and scan responses carry different fields
	if adv.Name != "" {
		found.Name = adv.Name
	}
	for _, u := range adv.Services {
		if !slices.Contains(found.Services, u) {
			found.Services = append(found.Services, u)
		}
	}
	found.RSSI = adv.RSSI
	found.Connectable = found.Connectable || adv.Connectable
	found.LastSeen = s.now()

	if !existing {
		s.logger.WithFields(logrus.Fields{
			"device":  found.Name,
			"address": found.Address,
			"rssi":    found.RSSI,
		}).Info("Discovered new device")
		if opts.OnFound != nil {
			opts.OnFound(*found)
		}
	}
}

// shouldIncludeDevice applies allow/block/service filters
func shouldIncludeDevice(adv device.Advertisement, opts *ScanOptions) bool {
	if slices.Contains(opts.BlockList, adv.Address) {
		return false
	}
	if len(opts.AllowList) > 0 && !slices.Contains(opts.AllowList, adv.Address) {
		return false
	}
	if len(opts.ServiceUUIDs) > 0 {
		return slices.ContainsFunc(adv.Services, func(u string) bool {
			return slices.Contains(opts.ServiceUUIDs, u)
		})
	}
	return true
}

func (s *Scanner) snapshot() []Found {
	devs := make([]Found, 0, s.devices.Len())
	s.devices.Range(func(_ string, f *Found) bool {
		devs = append(devs, *f)
		return true
	})
	sort.Slice(devs, func(i, j int) bool {
		if devs[i].RSSI != devs[j].RSSI {
			return devs[i].RSSI > devs[j].RSSI
		}
		return devs[i].Address < devs[j].Address
	})
	return devs
}

func (f Found) String() string {
	name := f.Name
	if name == "" {
		name = "(unnamed)"
	}
	return fmt.Sprintf("%s  %-20s %4d dBm", f.Address, name, f.RSSI)
}
