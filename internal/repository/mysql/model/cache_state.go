package model

import (
	"time"

	"github.com/Guyuepp/videohub/domain"
)

type CacheState struct {
	CacheKey           string     `gorm:"column:cache_key;type:varchar(64);primaryKey"`
	Status             string     `gorm:"type:varchar(20);not null"`
	Capacity           uint64     `gorm:"not null"`
	ErrorRate          float64    `gorm:"column:error_rate;not null"`
	Generation         int64      `gorm:"not null;default:0"`
	BuildingGeneration int64      `gorm:"column:building_generation;not null;default:0"`
	ClaimedBy          string     `gorm:"column:claimed_by;type:varchar(64);not null;default:''"`
	ClaimedUntil       *time.Time `gorm:"column:claimed_until;precision:6"`
	UpdatedAt          time.Time  `gorm:"precision:6"`
}

func (CacheState) TableName() string {
	return "cache_states"
}

func (m *CacheState) ToDomain() domain.CacheState {
	s := domain.CacheState{
		Key:                m.CacheKey,
		Status:             domain.CacheStatus(m.Status),
		Capacity:           m.Capacity,
		ErrorRate:          m.ErrorRate,
		Generation:         m.Generation,
		BuildingGeneration: m.BuildingGeneration,
		ClaimedBy:          m.ClaimedBy,
		UpdatedAt:          m.UpdatedAt,
	}
	if m.ClaimedUntil != nil {
		s.ClaimedUntil = *m.ClaimedUntil
	}
	return s
}

func NewCacheStateFromDomain(s domain.CacheState) *CacheState {
	m := &CacheState{
		CacheKey:           s.Key,
		Status:             string(s.Status),
		Capacity:           s.Capacity,
		ErrorRate:          s.ErrorRate,
		Generation:         s.Generation,
		BuildingGeneration: s.BuildingGeneration,
		ClaimedBy:          s.ClaimedBy,
		UpdatedAt:          s.UpdatedAt,
	}
	if !s.ClaimedUntil.IsZero() {
		until := s.ClaimedUntil
		m.ClaimedUntil = &until
	}
	return m
}
