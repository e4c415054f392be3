package domain

import "sort"

// ItemResult is the post-session distribution for one item.
type ItemResult struct {
	ItemID       string `json:"itemId"`
	Index        int    `json:"index"`
	Respondents  int    `json:"respondents"`
	CorrectCount int    `json:"correctCount,omitempty"`
	ChoiceCounts []int  `json:"choiceCounts,omitempty"`
	FastestID    string `json:"fastestId,omitempty"`
	KnewCount    int    `json:"knewCount,omitempty"`
	MissedCount  int    `json:"missedCount,omitempty"`
}

// ParticipantResult is the post-session scorecard for one participant.
type ParticipantResult struct {
	ParticipantID string  `json:"participantId"`
	Name          string  `json:"name"`
	Answered      int     `json:"answered"`
	CorrectCount  int     `json:"correctCount,omitempty"`
	KnewCount     int     `json:"knewCount,omitempty"`
	Accuracy      float64 `json:"accuracy"`
	AvgLatencyMs  int64   `json:"avgLatencyMs"`
	FastestCount  int     `json:"fastestCount,omitempty"`
	Score         int     `json:"score"`
	Bonus         int     `json:"bonus"`
}

// Results is the full aggregation payload for a complete party.
type Results struct {
	Items        []ItemResult        `json:"items"`
	Participants []ParticipantResult `json:"participants"`
}

// AggregateResults computes per-item and per-participant statistics from
// the immutable submission rows. It is a pure read-only pass and safe to
// recompute on every results read. Gone participants are included: their
// historical submissions still count.
func AggregateResults(set ItemSet, participants []Participant, answers []Answer, assessments []Assessment) Results {
	indexByItem := make(map[string]int, len(set.Items))
	for i, item := range set.Items {
		indexByItem[item.ID] = i
	}

	items := make([]ItemResult, len(set.Items))
	for i, item := range set.Items {
		items[i] = ItemResult{ItemID: item.ID, Index: i}
		if set.Mode == ModeQuiz {
			items[i].ChoiceCounts = make([]int, len(item.Choices))
		}
	}

	perParticipant := make(map[string]*ParticipantResult, len(participants))
	ordered := make([]string, 0, len(participants))
	for _, p := range participants {
		perParticipant[p.ID] = &ParticipantResult{
			ParticipantID: p.ID,
			Name:          p.Name,
			Score:         p.Score,
			Bonus:         p.Bonus,
		}
		ordered = append(ordered, p.ID)
	}

	latencySums := make(map[string]int64)

	fastest := make(map[int]Answer)
	for _, a := range answers {
		idx, ok := indexByItem[a.ItemID]
		if !ok {
			continue
		}
		items[idx].Respondents++
		if a.Choice >= 0 && a.Choice < len(items[idx].ChoiceCounts) {
			items[idx].ChoiceCounts[a.Choice]++
		}
		if a.Correct {
			items[idx].CorrectCount++
			if cur, ok := fastest[idx]; !ok || faster(a, cur) {
				fastest[idx] = a
			}
		}
		if pr, ok := perParticipant[a.ParticipantID]; ok {
			pr.Answered++
			if a.Correct {
				pr.CorrectCount++
			}
			latencySums[a.ParticipantID] += a.LatencyMs
		}
	}
	for idx, a := range fastest {
		items[idx].FastestID = a.ParticipantID
		if pr, ok := perParticipant[a.ParticipantID]; ok {
			pr.FastestCount++
		}
	}

	for _, a := range assessments {
		idx, ok := indexByItem[a.ItemID]
		if !ok {
			continue
		}
		items[idx].Respondents++
		if a.KnewIt {
			items[idx].KnewCount++
		} else {
			items[idx].MissedCount++
		}
		if pr, ok := perParticipant[a.ParticipantID]; ok {
			pr.Answered++
			if a.KnewIt {
				pr.KnewCount++
			}
			latencySums[a.ParticipantID] += a.LatencyMs
		}
	}

	results := Results{Items: items, Participants: make([]ParticipantResult, 0, len(ordered))}
	for _, id := range ordered {
		pr := perParticipant[id]
		if pr.Answered > 0 {
			if set.Mode == ModeQuiz {
				pr.Accuracy = float64(pr.CorrectCount) / float64(pr.Answered)
			} else {
				pr.Accuracy = float64(pr.KnewCount) / float64(pr.Answered)
			}
			pr.AvgLatencyMs = latencySums[id] / int64(pr.Answered)
		}
		results.Participants = append(results.Participants, *pr)
	}

	sort.Slice(results.Participants, func(i, j int) bool {
		pi, pj := results.Participants[i], results.Participants[j]
		if pi.Score+pi.Bonus != pj.Score+pj.Bonus {
			return pi.Score+pi.Bonus > pj.Score+pj.Bonus
		}
		if pi.Name != pj.Name {
			return pi.Name < pj.Name
		}
		return pi.ParticipantID < pj.ParticipantID
	})
	return results
}

// FastestCorrect returns the answer that wins the fastest-correct credit
// for one item, if any correct answer exists.
func FastestCorrect(answers []Answer) (Answer, bool) {
	var best Answer
	found := false
	for _, a := range answers {
		if !a.Correct {
			continue
		}
		if !found || faster(a, best) {
			best = a
			found = true
		}
	}
	return best, found
}

// faster orders correct answers for the fastest-respondent credit:
// lower latency wins, then earlier insert, then id for determinism.
func faster(a, b Answer) bool {
	if a.LatencyMs != b.LatencyMs {
		return a.LatencyMs < b.LatencyMs
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ParticipantID < b.ParticipantID
}
