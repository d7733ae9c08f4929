package metadata

import "strconv"

// TimeLayout is the catalog timestamp format. Times are written in UTC.
const TimeLayout = "2006-01-02T15:04:05"

// FillMetadata converts a finalized record into catalog pairs.
func FillMetadata(r Record) Pairs {
	md := make(Pairs, 0, len(r.RunNumbers)+len(r.SubRunNumbers)+len(r.Parents)+5+len(r.Extra))
	for _, run := range r.Runs() {
		md.Add("runs", strconv.FormatUint(uint64(run), 10))
	}
	for _, subRun := range r.SubRuns() {
		md.Add("subRuns", strconv.FormatUint(uint64(subRun), 10))
	}
	for _, parent := range r.ParentFiles() {
		md.Add("parents", parent)
	}
	md.Add("firstEvent", strconv.FormatUint(uint64(r.FirstEvent), 10))
	md.Add("lastEvent", strconv.FormatUint(uint64(r.LastEvent), 10))
	md.Add("eventCount", strconv.FormatUint(uint64(r.EventCount), 10))
	md.Add("startTime", r.StartTime.UTC().Format(TimeLayout))
	md.Add("endTime", r.EndTime.UTC().Format(TimeLayout))
	md.Extend(r.Extra)
	return md
}
