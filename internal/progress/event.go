package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageJobStart    Stage = "JOB_START"
	StageJobHB       Stage = "JOB_HEARTBEAT"
	StageJobDone     Stage = "JOB_DONE"
	StageJobError    Stage = "JOB_ERROR"
	StageDocStart    Stage = "DOC_START"
	StageDocEmbedded Stage = "DOC_EMBEDDED"
	StageDocError    Stage = "DOC_ERROR"
)

// Event captures a single milestone of embedding progress.
type Event struct {
	// JobID uniquely identifies a job run using the 16-byte UUID form.
	JobID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle or document milestone occurred.
	Stage Stage
	// Site optionally scopes document events to a host label.
	Site string
	// URL is the optional page URL; it should not contain credentials.
	URL string
	// Chunks is the number of text chunks embedded for the document.
	Chunks int64
	// DownloadDur is the time spent fetching and extracting the document.
	DownloadDur time.Duration
	// EmbedDur is the time spent in embedding calls for the document.
	EmbedDur time.Duration
	// Dur captures total runtime for job completion events.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == [16]byte{} {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageJobHB, StageJobDone, StageJobError:
	case StageDocStart, StageDocError:
		if e.Site == "" {
			return errors.New("document events require site")
		}
	case StageDocEmbedded:
		if e.Site == "" {
			return errors.New("document events require site")
		}
		if e.Chunks < 0 {
			return errors.New("chunks must be >= 0")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 || e.DownloadDur < 0 || e.EmbedDur < 0 {
		return errors.New("durations must be >= 0")
	}
	return nil
}

// JobUUID converts the binary job ID to uuid.UUID for repositories.
func (e Event) JobUUID() uuid.UUID {
	return uuid.UUID(e.JobID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ParseJobID converts a string job ID into the Event form; unparseable IDs
// hash into a stable non-zero value so events still validate.
func ParseJobID(jobID string) [16]byte {
	if id, err := uuid.Parse(jobID); err == nil {
		return UUIDToBytes(id)
	}
	return UUIDToBytes(uuid.NewSHA1(uuid.NameSpaceOID, []byte(jobID)))
}
