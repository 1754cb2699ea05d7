// Package export writes a report as a GTFS-Realtime TripUpdates feed.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/proto"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"

	"github.com/metronova/buseta/internal/feed"
	"github.com/metronova/buseta/internal/promote"
	"github.com/metronova/buseta/internal/refresh"
)

// BuildFeed converts a report into a full-dataset TripUpdates message. Each
// arrival becomes one entity; arrivals without an ETA are marked NO_DATA.
func BuildFeed(report refresh.Report, now time.Time) *gtfs.FeedMessage {
	var entities []*gtfs.FeedEntity

	for _, sec := range report.Sections {
		for _, a := range sec.Arrivals {
			id := entityID(sec.Stop.ID, a)

			update := &gtfs.TripUpdate_StopTimeUpdate{
				StopId: proto.String(sec.Stop.ID),
			}
			if seq, err := strconv.ParseUint(a.Sequence, 10, 32); err == nil {
				update.StopSequence = proto.Uint32(uint32(seq))
			}
			if a.ETA != nil {
				update.Arrival = &gtfs.TripUpdate_StopTimeEvent{Time: proto.Int64(a.ETA.Unix())}
			} else {
				update.ScheduleRelationship = gtfs.TripUpdate_StopTimeUpdate_NO_DATA.Enum()
			}

			trip := &gtfs.TripDescriptor{
				TripId:  proto.String(id),
				RouteId: proto.String(a.Route),
			}
			if dir, ok := directionID(a.Direction); ok {
				trip.DirectionId = proto.Uint32(dir)
			}

			entities = append(entities, &gtfs.FeedEntity{
				Id: proto.String(id),
				TripUpdate: &gtfs.TripUpdate{
					Trip:           trip,
					StopTimeUpdate: []*gtfs.TripUpdate_StopTimeUpdate{update},
					Timestamp:      proto.Uint64(uint64(report.GeneratedAt.Unix())),
				},
			})
		}
	}

	return &gtfs.FeedMessage{
		Header: &gtfs.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Incrementality:      gtfs.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           proto.Uint64(uint64(now.Unix())),
		},
		Entity: entities,
	}
}

// WriteFeed marshals m and publishes it at target through the promoter, so
// readers of target never see a partial file
func WriteFeed(m *gtfs.FeedMessage, target string, humanReadable bool, promoter promote.Promoter) error {
	var (
		data []byte
		err  error
	)
	if humanReadable {
		data, err = prototext.Marshal(m)
	} else {
		data, err = proto.Marshal(m)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal to protobuf: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(target), err)
	}

	tmp := refresh.TempPath(target)
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write to %s: %w", tmp, err)
	}

	result, err := promoter.Promote(tmp, target)
	if err != nil {
		os.Remove(tmp)
		return err
	}
	if result != promote.Promoted {
		return fmt.Errorf("failed to publish %s: %s", target, result)
	}
	return nil
}

// ReadFeed loads a binary feed written by WriteFeed
func ReadFeed(path string) (*gtfs.FeedMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m := &gtfs.FeedMessage{}
	if err := proto.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("failed to parse protobuf: %w", err)
	}
	return m, nil
}

// entityID is unique per stop visit: a route passing the same stop twice
// differs in Sequence
func entityID(stopID string, a feed.ArrivalRecord) string {
	return strings.Join([]string{stopID, a.Route, a.Direction, a.ServiceType, a.Sequence, a.ETASequence}, ":")
}

// directionID maps the feed's outbound/inbound markers to GTFS direction ids
func directionID(dir string) (uint32, bool) {
	switch strings.ToUpper(dir) {
	case "O":
		return 0, true
	case "I":
		return 1, true
	default:
		return 0, false
	}
}
