package domain

import "time"

// FormKind identifies which log form a record came from.
type FormKind string

// Supported form kinds.
const (
	FormIncidentLog   FormKind = "incident_log"
	FormMajorIncident FormKind = "major_incident"
	FormCallTaking    FormKind = "call_taking"
)

// ServiceRequired names the emergency service requested on a call-taking record.
type ServiceRequired string

// Services a caller can request.
const (
	ServicePolice    ServiceRequired = "POLICE"
	ServiceAmbulance ServiceRequired = "AMBULANCE"
	ServiceFire      ServiceRequired = "FIRE"
)

// IncidentLog is a free-form operational log entry.
type IncidentLog struct {
	DateTime    time.Time `json:"datetime" validate:"required"`
	Type        string    `json:"type" validate:"required"`
	Location    string    `json:"location" validate:"required"`
	Description string    `json:"description" validate:"required"`
	Action      string    `json:"action"`
}

// MajorIncident records a declared major incident and its command structure.
type MajorIncident struct {
	Name      string    `json:"name" validate:"required"`
	DateTime  time.Time `json:"datetime" validate:"required"`
	Commander string    `json:"commander" validate:"required"`
	Location  string    `json:"location" validate:"required"`
	Type      string    `json:"type" validate:"required"`
	Severity  string    `json:"severity" validate:"required"`
	Sitrep    string    `json:"sitrep"`
	Resources string    `json:"resources"`
	Actions   string    `json:"actions"`
}

// PoliceDetails carries police-specific call-taking answers.
type PoliceDetails struct {
	IncidentType    string `json:"incidentType"`
	SuspectsPresent string `json:"suspectsPresent"`
	WeaponsInvolved string `json:"weaponsInvolved"`
	Injuries        string `json:"injuries"`
}

// AmbulanceDetails carries ambulance-specific call-taking answers.
type AmbulanceDetails struct {
	PatientAge       string `json:"patientAge"`
	Conscious        string `json:"conscious"`
	Breathing        string `json:"breathing"`
	ChiefComplaint   string `json:"chiefComplaint"`
	NumberOfPatients string `json:"numberOfPatients"`
}

// FireDetails carries fire-specific call-taking answers.
type FireDetails struct {
	FireType       string `json:"fireType"`
	PersonsTrapped string `json:"personsTrapped"`
	HazardsPresent string `json:"hazardsPresent"`
	PropertyType   string `json:"propertyType"`
}

// CallTakingRecord is the structured record of an inbound emergency call.
type CallTakingRecord struct {
	ReceivedTime    time.Time         `json:"receivedTime" validate:"required"`
	ServiceRequired ServiceRequired   `json:"serviceRequired" validate:"required,oneof=POLICE AMBULANCE FIRE"`
	Location        string            `json:"location" validate:"required"`
	CallerPhone     string            `json:"callerPhone"`
	CallerName      string            `json:"callerName"`
	CADRef          string            `json:"cadRef"`
	AdditionalNotes string            `json:"additionalNotes"`
	Police          *PoliceDetails    `json:"policeData,omitempty"`
	Ambulance       *AmbulanceDetails `json:"ambulanceData,omitempty"`
	Fire            *FireDetails      `json:"fireData,omitempty"`
}

// FormRecord is the append-only envelope persisted for any submitted form.
// Exactly one of the typed payloads is set, matching Kind.
type FormRecord struct {
	ID            string            `json:"id"`
	Kind          FormKind          `json:"kind"`
	SubmittedBy   string            `json:"submittedBy"`
	SubmittedAt   time.Time         `json:"submittedAt"`
	IncidentLog   *IncidentLog      `json:"incidentLog,omitempty"`
	MajorIncident *MajorIncident    `json:"majorIncident,omitempty"`
	CallTaking    *CallTakingRecord `json:"callTaking,omitempty"`
}
