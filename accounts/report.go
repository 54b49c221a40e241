package accounts

import (
	"math"
	"sort"
)

// BuildReport summarizes records, which must be ordered newest first
func BuildReport(child *User, records []*GameRecord) *Report {
	r := &Report{
		Child:            child,
		TotalSessions:    len(records),
		Levels:           []LevelStat{},
		ScoreProgression: []ScorePoint{},
		RecentSessions:   []*GameRecord{},
	}
	if len(records) == 0 {
		return r
	}

	byLevel := map[int]*LevelStat{}
	totalScore := 0
	for _, rec := range records {
		totalScore += rec.Score
		if rec.Success {
			r.SuccessCount++
		}
		stat, ok := byLevel[rec.Level]
		if !ok {
			stat = &LevelStat{Level: rec.Level}
			byLevel[rec.Level] = stat
		}
		stat.Played++
		if rec.Success {
			stat.Successes++
		}
	}

	r.SuccessRate = percent(r.SuccessCount, r.TotalSessions)
	r.AverageScore = round1(float64(totalScore) / float64(r.TotalSessions))

	for _, stat := range byLevel {
		stat.SuccessRate = percent(stat.Successes, stat.Played)
		r.Levels = append(r.Levels, *stat)
	}
	sort.Slice(r.Levels, func(i, j int) bool { return r.Levels[i].Level < r.Levels[j].Level })

	for i := len(records) - 1; i >= 0; i-- {
		r.ScoreProgression = append(r.ScoreProgression, ScorePoint{
			PlayedAt: records[i].PlayedAt,
			Score:    records[i].Score,
		})
	}

	n := min(recentSessions, len(records))
	r.RecentSessions = append(r.RecentSessions, records[:n]...)
	return r
}

func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return round1(float64(part) * 100 / float64(total))
}

func round1(f float64) float64 {
	return math.Round(f*10) / 10
}
