// Package notice formats the informational messages printed by the model
// conversion CLI.
package notice

import (
	"fmt"
	"time"
)

const (
	updateFormat = "Check for a new version of Intel(R) Distribution of OpenVINO(TM) toolkit here %s " +
		"or on https://github.com/openvinotoolkit/openvino"
	updateLink = "https://software.intel.com/content/www/us/en/develop/tools/openvino-toolkit/download.html" +
		"?cid=other&source=prod&campid=ww_2023_bu_IOTG_OpenVINO-2022-3&content=upg_all&medium=organic"

	docsLink = "https://docs.openvino.ai"
)

// UpdateDate is the first calendar day the update notice is shown.
var UpdateDate = Date{Year: 2023, Month: time.May, Day: 1}

// Date is a calendar day without time-of-day or zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar day of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// Before reports whether d is strictly earlier than other.
func (d Date) Before(other Date) bool {
	if d.Year != other.Year {
		return d.Year < other.Year
	}
	if d.Month != other.Month {
		return d.Month < other.Month
	}
	return d.Day < other.Day
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// Clock supplies the current time; tests replace it.
var Clock = time.Now

// UpdateMessage returns the upgrade notice when today is on or after
// UpdateDate, and false otherwise.
func UpdateMessage(today time.Time) (string, bool) {
	if DateOf(today).Before(UpdateDate) {
		return "", false
	}
	return fmt.Sprintf(updateFormat, updateLink), true
}

// GetUpdateMessage is UpdateMessage evaluated at Clock().
func GetUpdateMessage() (string, bool) {
	return UpdateMessage(Clock())
}

// API20Message describes the IR v11 / API 2.0 migration. It never changes.
func API20Message() string {
	return "[ INFO ] The model was converted to IR v11, the latest model format that corresponds to the source DL framework " +
		"input/output format. While IR v11 is backwards compatible with OpenVINO Inference Engine API v1.0, " +
		"please use API v2.0 (as of 2022.1) to take advantage of the latest improvements in IR v11.\n" +
		"Find more information about API v2.0 and IR v11 at " + docsLink
}
