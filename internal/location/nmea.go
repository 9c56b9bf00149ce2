package location

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/adrianmo/go-nmea"
	"github.com/tarm/serial"

	"github.com/example/nearby/internal/models"
)

// NMEAProvider reads a GPS receiver's NMEA stream and reports the first
// valid fix from a GGA or RMC sentence.
type NMEAProvider struct {
	open func() (io.ReadCloser, error)
}

// NewSerialNMEAProvider reads from a receiver attached to a serial port.
// The port is opened per Locate call and closed afterwards.
func NewSerialNMEAProvider(port string, baud int) *NMEAProvider {
	return NewNMEAProvider(func() (io.ReadCloser, error) {
		p, err := serial.OpenPort(&serial.Config{Name: port, Baud: baud, ReadTimeout: 2 * time.Second})
		if err != nil {
			return nil, err
		}
		return p, nil
	})
}

func NewNMEAProvider(open func() (io.ReadCloser, error)) *NMEAProvider {
	return &NMEAProvider{open: open}
}

func (n *NMEAProvider) Locate(ctx context.Context) (models.Coord, error) {
	rc, err := n.open()
	if err != nil {
		return models.Coord{}, fmt.Errorf("%w: open gps: %w", ErrUnavailable, err)
	}

	type result struct {
		c   models.Coord
		err error
	}
	done := make(chan result, 1)
	go func() {
		c, err := scanFix(rc)
		done <- result{c, err}
	}()

	select {
	case r := <-done:
		_ = rc.Close()
		return r.c, r.err
	case <-ctx.Done():
		// closing unblocks the pending read
		_ = rc.Close()
		return models.Coord{}, errors.Join(ErrUnavailable, ctx.Err())
	}
}

func scanFix(r io.Reader) (models.Coord, error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "$") {
			continue
		}
		s, err := nmea.Parse(line)
		if err != nil {
			// partial or corrupted sentences are common right after opening
			continue
		}
		switch m := s.(type) {
		case nmea.GGA:
			if m.FixQuality != nmea.Invalid {
				return models.Coord{Lat: m.Latitude, Lng: m.Longitude}, nil
			}
		case nmea.RMC:
			if m.Validity == nmea.ValidRMC {
				return models.Coord{Lat: m.Latitude, Lng: m.Longitude}, nil
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return models.Coord{}, fmt.Errorf("%w: read gps: %w", ErrUnavailable, err)
	}
	return models.Coord{}, fmt.Errorf("%w: no valid gps fix", ErrUnavailable)
}
