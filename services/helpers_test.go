package services_test

import (
	"github.com/camden-git/framearchive/database"
)

func emptyFilter() database.FrameFilter { return database.FrameFilter{} }

func defaultSort() database.Sort {
	s, _ := database.ParseSort("", "")
	return s
}

func defaultPage() database.Page {
	p, _ := database.ParsePage("", "")
	return p
}
