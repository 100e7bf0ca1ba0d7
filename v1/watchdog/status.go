package watchdog

import (
	"encoding/json"
	"encoding/xml"
)

// Status is a diagnostic tree of the active watches: a watchdog root with
// one killer node per watched project.
//
// It renders as XML
//
//	<watchdog><killer pid="P1">a.xml</killer></watchdog>
//
// and as JSON
//
//	{"watchdog":[{"pid":"P1","resource":"a.xml"}]}
type Status struct {
	XMLName xml.Name `xml:"watchdog" json:"-"`
	Killers []Killer `xml:"killer" json:"watchdog"`
}

// Killer is the status node of a single watch.
type Killer struct {
	PID      string `xml:"pid,attr" json:"pid"`
	Resource string `xml:",chardata" json:"resource"`
}

// Report builds a Status from entries, in the given order.
func Report(entries []Entry) Status {
	s := Status{Killers: make([]Killer, 0, len(entries))}
	for _, e := range entries {
		s.Killers = append(s.Killers, Killer{PID: e.Project.String(), Resource: e.Resource})
	}
	return s
}

// XML renders s as an XML document without a header.
func (s Status) XML() ([]byte, error) {
	return xml.Marshal(s)
}

// JSON renders s as a JSON object.
func (s Status) JSON() ([]byte, error) {
	if s.Killers == nil {
		s.Killers = []Killer{}
	}
	return json.Marshal(s)
}
