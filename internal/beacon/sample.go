package beacon

import (
	"math"
	"strconv"

	"github.com/google/uuid"
)

func malformed(index int, s Sample, field, reason string) *MalformedSampleError {
	return &MalformedSampleError{
		Index:  index,
		Beacon: s.UUID + ":" + strconv.Itoa(s.Major) + ":" + strconv.Itoa(s.Minor),
		Field:  field,
		Reason: reason,
	}
}

// validateSample checks one sample of a batch. identified is true when the
// ID parsed even though another field was rejected; such a beacon is skipped
// for the cycle but not treated as missing from it.
func validateSample(index int, s Sample) (id ID, identified bool, err error) {
	id, idErr := NewID(s.UUID, s.Major, s.Minor)
	if idErr != nil {
		field := "uuid"
		if _, uerr := uuid.Parse(s.UUID); uerr == nil {
			field = "major"
			if s.Major >= 0 && s.Major <= 0xFFFF {
				field = "minor"
			}
		}
		return ID{}, false, malformed(index, s, field, idErr.Error())
	}
	if s.RSSI > 0 || s.RSSI < MinRSSI {
		return id, true, malformed(index, s, "rssi", "out of range "+strconv.Itoa(MinRSSI)+"..0: "+strconv.Itoa(s.RSSI))
	}
	if s.Accuracy != nil && (math.IsNaN(*s.Accuracy) || math.IsInf(*s.Accuracy, 0)) {
		return id, true, malformed(index, s, "accuracy", "not a finite number")
	}
	return id, true, nil
}
