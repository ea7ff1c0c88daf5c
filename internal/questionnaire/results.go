package questionnaire

// Risk grades one party's exposure.
type Risk string

// Risk levels.
const (
	RiskLow    Risk = "LOW"
	RiskMedium Risk = "MEDIUM"
	RiskHigh   Risk = "HIGH"
)

// Risks is the initial risk assessment of a result.
type Risks struct {
	Victim  Risk `json:"victim"`
	Public  Risk `json:"public"`
	Police  Risk `json:"police"`
	Subject Risk `json:"subject"`
}

// Result is the deployment recommendation at a leaf of the tree.
type Result struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Subtitle       string   `json:"subtitle,omitempty"`
	Tactic         string   `json:"tactic"`
	DeploymentType string   `json:"deploymentType"`
	Trojans        string   `json:"trojans"`
	Strategy       string   `json:"strategy"`
	Risks          Risks    `json:"risks"`
	Notes          []string `json:"notes"`
}

// Declared reports whether the result declares a firearms incident.
func (r Result) Declared() bool { return r.ID != ResultNoCause }

// Result ids.
const (
	ResultNoCause                            = "noCause"
	ResultActiveThreat                       = "activeThreat"
	ResultOnFootVictimWith                   = "onFootVictimWith"
	ResultOnFootVictimSeparate               = "onFootVictimSeparate"
	ResultOnFootNoVictim                     = "onFootNoVictim"
	ResultVehicleVictimWithMobile            = "vehicleVictimWithMobile"
	ResultVehicleVictimWithStatic            = "vehicleVictimWithStatic"
	ResultVehicleVictimSeparate              = "vehicleVictimSeparate"
	ResultVehicleNoVictimMobile              = "vehicleNoVictimMobile"
	ResultVehicleNoVictimStatic              = "vehicleNoVictimStatic"
	ResultBuildingVictimWithNonDetached      = "buildingVictimWithNonDetached"
	ResultBuildingVictimWithDetachedOthers   = "buildingVictimWithDetachedOthers"
	ResultBuildingVictimWithDetachedNoOthers = "buildingVictimWithDetachedNoOthers"
	ResultBuildingVictimSeparate             = "buildingVictimSeparate"
	ResultBuildingNoVictimNonDetached        = "buildingNoVictimNonDetached"
	ResultBuildingNoVictimDetachedOthers     = "buildingNoVictimDetachedOthers"
	ResultBuildingNoVictimDetachedNoOthers   = "buildingNoVictimDetachedNoOthers"
)

const (
	declared     = "DECLARED FIREARMS INCIDENT"
	rvWait       = "RENDEZVOUS and WAIT"
	oneARV       = "1 ARV or 1 NODDY CAR"
	twoARVs      = "2 ARVs"
	twoARVsNoddy = "2 ARVs or 2 NODDY CARs"
	fullStrategy = "Minimise risk to victim(s). Minimise risk to the public. Maximise the safety of police."
	narrowStrat  = "Minimise risk to victim(s). Maximise the safety of police."

	noteResponse = "Suitable RESPONSE callsigns should be placed on standby to attend."
	noteAir      = "The NATIONAL POLICE AIR SERVICE should be tasked."
	noteDogs     = "DOGS should be tasked."
	noteANPR     = "ANPR WARNING MARKERS should be applied immediately."
)

func risks(victim, public, police, subject Risk) Risks {
	return Risks{Victim: victim, Public: public, Police: police, Subject: subject}
}

// results holds every leaf payload. Entries are copied out by Lookup.
var results = map[string]Result{
	ResultNoCause: {
		Title:          "NO CAUSE TO DECLARE A FIREARMS INCIDENT",
		Subtitle:       "GIVEN THE INFORMATION PROVIDED",
		Tactic:         "N/A",
		DeploymentType: "N/A",
		Trojans:        "N/A",
		Strategy:       "N/A",
		Risks:          risks(RiskLow, RiskLow, RiskLow, RiskLow),
		Notes:          []string{"No firearms deployment required based on current information."},
	},
	ResultActiveThreat: {
		Title:          declared,
		Subtitle:       "ACTIVE THREAT / MXA DEPLOYMENT",
		Tactic:         "Officer Discretion",
		DeploymentType: "STRAIGHT TO SCENE",
		Trojans:        "ALL AVAILABLE",
		Strategy:       fullStrategy,
		Risks:          risks(RiskHigh, RiskHigh, RiskHigh, RiskHigh),
		Notes: []string{
			"Available RESPONSE callsigns should be placed on standby to attend.",
			noteAir,
			"Any COUNTER-TERROR callsigns should be placed on standby to attend.",
		},
	},
	ResultOnFootVictimWith: {
		Title: declared, Tactic: "Pedestrian Armed Interception", DeploymentType: rvWait, Trojans: oneARV, Strategy: fullStrategy,
		Risks: risks(RiskMedium, RiskMedium, RiskLow, RiskLow),
		Notes: []string{noteResponse, noteAir, noteDogs},
	},
	ResultOnFootVictimSeparate: {
		Title: declared, Tactic: "Pedestrian Armed Enquiry", DeploymentType: rvWait, Trojans: oneARV, Strategy: fullStrategy,
		Risks: risks(RiskLow, RiskLow, RiskLow, RiskLow),
		Notes: []string{noteResponse},
	},
	ResultOnFootNoVictim: {
		Title: declared, Tactic: "Pedestrian Armed Enquiry", DeploymentType: rvWait, Trojans: oneARV, Strategy: fullStrategy,
		Risks: risks(RiskLow, RiskLow, RiskLow, RiskLow),
		Notes: []string{noteResponse},
	},
	ResultVehicleVictimWithMobile: {
		Title: declared, Tactic: "Enforced Stop, Containment and Callout", DeploymentType: rvWait, Trojans: twoARVs, Strategy: fullStrategy,
		Risks: risks(RiskMedium, RiskMedium, RiskMedium, RiskMedium),
		Notes: []string{noteResponse, noteDogs, noteANPR},
	},
	ResultVehicleVictimWithStatic: {
		Title: declared, Tactic: "Emergency Search", DeploymentType: "STRAIGHT TO SCENE and WAIT", Trojans: twoARVsNoddy, Strategy: fullStrategy,
		Risks: risks(RiskMedium, RiskLow, RiskHigh, RiskMedium),
		Notes: []string{noteResponse, noteDogs},
	},
	ResultVehicleVictimSeparate: {
		Title: declared, Tactic: "Enforced Stop, Armed Enquiry", DeploymentType: rvWait, Trojans: twoARVs, Strategy: fullStrategy,
		Risks: risks(RiskLow, RiskLow, RiskMedium, RiskLow),
		Notes: []string{noteResponse, noteDogs, noteANPR},
	},
	ResultVehicleNoVictimMobile: {
		Title: declared, Tactic: "Enforced Stop, Armed Enquiry", DeploymentType: rvWait, Trojans: twoARVs, Strategy: fullStrategy,
		Risks: risks(RiskLow, RiskLow, RiskMedium, RiskLow),
		Notes: []string{noteResponse, noteDogs, noteANPR},
	},
	ResultVehicleNoVictimStatic: {
		Title: declared, Tactic: "Deliberate Search", DeploymentType: rvWait, Trojans: twoARVsNoddy, Strategy: narrowStrat,
		Risks: risks(RiskLow, RiskLow, RiskMedium, RiskMedium),
		Notes: []string{noteResponse, noteDogs},
	},
	ResultBuildingVictimWithNonDetached: {
		Title: declared, Tactic: "Enforced Stop, Containment and Callout", DeploymentType: rvWait, Trojans: twoARVs, Strategy: fullStrategy,
		Risks: risks(RiskMedium, RiskMedium, RiskMedium, RiskMedium),
		Notes: []string{noteResponse, noteDogs, noteANPR},
	},
	ResultBuildingVictimWithDetachedOthers: {
		Title: declared, Tactic: "Containment and Callout", DeploymentType: rvWait, Trojans: twoARVsNoddy, Strategy: fullStrategy,
		Risks: risks(RiskLow, RiskMedium, RiskLow, RiskLow),
		Notes: []string{noteResponse, noteDogs},
	},
	ResultBuildingVictimWithDetachedNoOthers: {
		Title: declared, Tactic: "Containment and Callout", DeploymentType: rvWait, Trojans: twoARVsNoddy, Strategy: fullStrategy,
		Risks: risks(RiskLow, RiskMedium, RiskLow, RiskLow),
		Notes: []string{noteResponse, noteDogs},
	},
	ResultBuildingVictimSeparate: {
		Title: declared, Tactic: "Deliberate Search", DeploymentType: rvWait, Trojans: twoARVsNoddy, Strategy: narrowStrat,
		Risks: risks(RiskLow, RiskLow, RiskMedium, RiskMedium),
		Notes: []string{noteResponse, noteDogs},
	},
	ResultBuildingNoVictimNonDetached: {
		Title: declared, Tactic: "Containment and Callout", DeploymentType: rvWait, Trojans: twoARVsNoddy, Strategy: fullStrategy,
		Risks: risks(RiskLow, RiskMedium, RiskLow, RiskLow),
		Notes: []string{noteResponse, noteDogs},
	},
	ResultBuildingNoVictimDetachedOthers: {
		Title: declared, Tactic: "Containment and Callout", DeploymentType: rvWait, Trojans: twoARVsNoddy, Strategy: fullStrategy,
		Risks: risks(RiskLow, RiskMedium, RiskLow, RiskLow),
		Notes: []string{noteResponse, noteDogs},
	},
	ResultBuildingNoVictimDetachedNoOthers: {
		Title: declared, Tactic: "Deliberate Search", DeploymentType: rvWait, Trojans: twoARVsNoddy, Strategy: narrowStrat,
		Risks: risks(RiskLow, RiskLow, RiskMedium, RiskMedium),
		Notes: []string{noteResponse, noteDogs},
	},
}

// Lookup returns the payload for id. Unknown ids fall back to noCause.
func Lookup(id string) Result {
	res, ok := results[id]
	if !ok {
		id = ResultNoCause
		res = results[id]
	}
	res.ID = id
	res.Notes = append([]string(nil), res.Notes...)
	return res
}

// ResultIDs lists every known result id.
func ResultIDs() []string {
	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	return ids
}
