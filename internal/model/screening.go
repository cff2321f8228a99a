package model

import "time"

// Screening is one scheduled event from the festival's ticket listing. Its ID
// is derived from the listing text (title, date, time range and location), so
// scraping an unchanged listing twice always yields the same ID.
//
// Fields:
//
//	ID               – "<title> - <date> - <time range> - <location>".
//	Title            – film or programme title as listed.
//	DateString       – date cell as displayed, e.g. "January 20, 2023".
//	TimeRangeString  – time cell as displayed, e.g. "9:00 PM - 11:05 PM".
//	StartTime        – parsed start in the festival time zone.
//	EndTime          – parsed end; rolled to the next day when before start.
//	Location         – "<venue>, <city>".
//	IsInParkCity     – venue is in Park City or at the mountain resort.
//	IsInSaltLakeCity – venue is in Salt Lake City.
//	IsUnavailable    – no longer present in the live listing.
//	UpdatedAt        – when the listing was last scraped.
type Screening struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	DateString       string    `json:"dateString"`
	TimeRangeString  string    `json:"timeRangeString"`
	StartTime        time.Time `json:"startTime"`
	EndTime          time.Time `json:"endTime"`
	Location         string    `json:"location"`
	IsInParkCity     bool      `json:"isInParkCity"`
	IsInSaltLakeCity bool      `json:"isInSaltLakeCity"`
	IsUnavailable    bool      `json:"isUnavailable,omitempty"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// ScreeningDetail holds what is learned about a screening beyond its listing
// row: its type label and everything read from the cart.
type ScreeningDetail struct {
	ScreeningType     string    `json:"screeningType"`
	IsPremiere        bool      `json:"isPremiere"`
	IsSecondScreening bool      `json:"isSecondScreening"`
	TicketType        string    `json:"ticketType,omitempty"`
	IsSoldOut         bool      `json:"isSoldOut,omitempty"`
	TicketsPurchased  int       `json:"ticketsPurchased,omitempty"`
	TicketsRemaining  *int      `json:"ticketsRemaining,omitempty"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// ScanCursor is the background scanner's position in the program. Seen holds
// the IDs refreshed during the current pass and is cleared on wrap-around.
type ScanCursor struct {
	Index int      `json:"index"`
	Seen  []string `json:"seen"`
}

// ScreeningView is the stored state of one screening as returned by the API.
type ScreeningView struct {
	ID     string           `json:"id"`
	Basic  *Screening       `json:"basicInfo,omitempty"`
	Detail *ScreeningDetail `json:"moreInfo,omitempty"`
	Films  []Film           `json:"filmInfos,omitempty"`
}
