package chatstore

import "fmt"

// Location is a row of the locations table.
type Location struct {
	ID          int64
	Latitude    float64
	Longitude   float64
	Accuracy    float64
	Timestamp   int64
	ChatID      int64
	FromID      int64
	Marker      string
	Independent bool
}

// InsertLocation inserts an independent location row referencing an
// outgoing message (§4.5 send step 6: Chat-Set-Latitude/-Longitude).
func (s *Store) InsertLocation(loc *Location) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO locations (latitude, longitude, accuracy, timestamp, chat_id, from_id, marker, independent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		loc.Latitude, loc.Longitude, loc.Accuracy, loc.Timestamp, loc.ChatID, loc.FromID, loc.Marker, loc.Independent)
	if err != nil {
		return 0, fmt.Errorf("chatstore: insert location: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("chatstore: insert location id: %w", err)
	}
	return id, nil
}
