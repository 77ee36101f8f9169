package response

import "github.com/Guyuepp/videohub/domain"

type Video struct {
	ID           int64  `json:"id"`
	UserID       int64  `json:"user_id"`
	Title        string `json:"title"`
	SourceURL    string `json:"source_url"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
	CreatedAt    string `json:"created_at"`
}

func NewVideoFromDomain(v *domain.Video) Video {
	return Video{
		ID:           v.ID,
		UserID:       v.UserID,
		Title:        v.Title,
		SourceURL:    v.SourceURL,
		Status:       string(v.Status),
		ErrorMessage: v.ErrorMessage,
		CreatedAt:    v.CreatedAt.Format(DateTimeFormat),
	}
}

type StatusLog struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
	CreatedAt    string `json:"created_at"`
}

func NewStatusHistoryFromDomain(logs []domain.VideoStatusLog) []StatusLog {
	res := make([]StatusLog, len(logs))
	for i, l := range logs {
		res[i] = StatusLog{
			Status:       string(l.Status),
			ErrorMessage: l.ErrorMessage,
			CreatedAt:    l.CreatedAt.Format(DateTimeFormat),
		}
	}
	return res
}

type CacheState struct {
	Key                string  `json:"key"`
	Status             string  `json:"status"`
	Capacity           uint64  `json:"capacity"`
	ErrorRate          float64 `json:"error_rate"`
	Generation         int64   `json:"generation"`
	BuildingGeneration int64   `json:"building_generation,omitempty"`
	ClaimedBy          string  `json:"claimed_by,omitempty"`
	UpdatedAt          string  `json:"updated_at,omitempty"`
}

func NewCacheStateFromDomain(s domain.CacheState) CacheState {
	res := CacheState{
		Key:                s.Key,
		Status:             string(s.Status),
		Capacity:           s.Capacity,
		ErrorRate:          s.ErrorRate,
		Generation:         s.Generation,
		BuildingGeneration: s.BuildingGeneration,
		ClaimedBy:          s.ClaimedBy,
	}
	if !s.UpdatedAt.IsZero() {
		res.UpdatedAt = s.UpdatedAt.Format(DateTimeFormat)
	}
	return res
}
