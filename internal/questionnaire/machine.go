// Package questionnaire walks the firearms incident deployment grading
// (FIDS) decision tree. The tree is a static transition table: each state is
// a question, each answer leads either to another state or to a result id.
package questionnaire

import (
	"errors"
	"fmt"
	"strings"
)

// Answer is an operator response to a question.
type Answer string

// Answers accepted across the tree.
const (
	Yes        Answer = "YES"
	No         Answer = "NO"
	Maybe      Answer = "MAYBE"
	OnFoot     Answer = "ON_FOOT"
	InVehicle  Answer = "IN_VEHICLE"
	InBuilding Answer = "IN_BUILDING"
	Unknown    Answer = "UNKNOWN"
)

// ParseAnswer normalizes free text such as "in vehicle" into an Answer.
func ParseAnswer(s string) (Answer, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	switch a := Answer(norm); a {
	case Yes, No, Maybe, OnFoot, InVehicle, InBuilding, Unknown:
		return a, nil
	case "Y":
		return Yes, nil
	case "N":
		return No, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAnswer, s)
}

// State identifies a question in context. Questions asked on several
// branches get one state per branch so no transition depends on history.
type State string

// States of the tree.
const (
	StateActiveThreat   State = "activeThreat"
	StatePossession     State = "possession"
	StateAccessToWeapon State = "accessToWeapon"
	StateAppropriate    State = "appropriate"
	StateSubjectPos     State = "subjectPosition"

	StateVictimOnFoot     State = "victim.onFoot"
	StateVictimInVehicle  State = "victim.inVehicle"
	StateVictimInBuilding State = "victim.inBuilding"

	StateVictimLocationOnFoot     State = "victimLocation.onFoot"
	StateVictimLocationInVehicle  State = "victimLocation.inVehicle"
	StateVictimLocationInBuilding State = "victimLocation.inBuilding"

	StateVehicleStatusWithVictim State = "vehicleStatus.withVictim"
	StateVehicleStatusNoVictim   State = "vehicleStatus.noVictim"

	StateBuildingTypeWithVictim State = "buildingType.withVictim"
	StateBuildingTypeNoVictim   State = "buildingType.noVictim"

	StateOtherResidentsWithVictim State = "otherResidents.withVictim"
	StateOtherResidentsNoVictim   State = "otherResidents.noVictim"
)

// Errors returned while walking the tree.
var (
	ErrInvalidAnswer = errors.New("questionnaire: answer not valid for this question")
	ErrFinished      = errors.New("questionnaire: assessment already has a result")
	ErrIncomplete    = errors.New("questionnaire: assessment needs more answers")
)

// Question is what an operator is shown for a state.
type Question struct {
	State   State
	Header  string
	Title   string
	Prompt  string
	Answers []Answer
}

// target is either the next state or a terminal result id.
type target struct {
	next   State
	result string
}

func ask(s State) target      { return target{next: s} }
func finish(id string) target { return target{result: id} }

type node struct {
	header string
	title  string
	prompt string
	order  []Answer
	edges  map[Answer]target
}

const (
	promptVictim         = "Is there a specific victim?"
	promptVictimLocation = "Is the victim currently with the subject in question?"
	promptVehicle        = "Is the subject's vehicle mobile?"
	promptBuilding       = "Is the building in question a detached residential property?"
	promptResidents      = "Are other residents believed to be in the property?"
)

func yesNo(header, title, prompt string, yes, no target) node {
	return node{header: header, title: title, prompt: prompt, order: []Answer{Yes, No}, edges: map[Answer]target{Yes: yes, No: no}}
}

var machine = map[State]node{
	StateActiveThreat: yesNo("ACTIVE THREAT", "ACTIVE THREAT",
		"Is the subject actively attacking people with a weapon?",
		finish(ResultActiveThreat), ask(StatePossession)),
	StatePossession: {
		header: "POSSESSION",
		title:  "POSSESSION",
		prompt: "Is there reason to believe the subject is in possession of a firearm or otherwise potentially lethal weapon?",
		order:  []Answer{Yes, Maybe, No},
		edges: map[Answer]target{
			Yes:   ask(StateAccessToWeapon),
			Maybe: ask(StateAccessToWeapon),
			No:    finish(ResultNoCause),
		},
	},
	StateAccessToWeapon: yesNo("ACCESS TO A WEAPON", "ACCESS TO A WEAPON",
		"Does the subject have immediate access to a firearm or otherwise potentially lethal weapon?",
		ask(StateAppropriate), finish(ResultNoCause)),
	StateAppropriate: yesNo("APPROPRIATE", "APPROPRIATE",
		"Is the subject so dangerous that the deployment of armed officers is considered to be appropriate?",
		ask(StateSubjectPos), finish(ResultNoCause)),
	StateSubjectPos: {
		header: "SUBJECT POSITION",
		title:  "SUBJECT POSITION",
		prompt: "Where is the subject?",
		order:  []Answer{OnFoot, InVehicle, InBuilding, Unknown},
		edges: map[Answer]target{
			OnFoot:     ask(StateVictimOnFoot),
			InVehicle:  ask(StateVictimInVehicle),
			InBuilding: ask(StateVictimInBuilding),
			Unknown:    finish(ResultNoCause),
		},
	},

	StateVictimOnFoot: yesNo("SUBJECT ON FOOT", "VICTIM", promptVictim,
		ask(StateVictimLocationOnFoot), finish(ResultOnFootNoVictim)),
	StateVictimInVehicle: yesNo("SUBJECT IN VEHICLE", "VICTIM", promptVictim,
		ask(StateVictimLocationInVehicle), ask(StateVehicleStatusNoVictim)),
	StateVictimInBuilding: yesNo("SUBJECT IN BUILDING", "VICTIM", promptVictim,
		ask(StateVictimLocationInBuilding), ask(StateBuildingTypeNoVictim)),

	StateVictimLocationOnFoot: yesNo("SUBJECT ON FOOT", "VICTIM LOCATION", promptVictimLocation,
		finish(ResultOnFootVictimWith), finish(ResultOnFootVictimSeparate)),
	StateVictimLocationInVehicle: yesNo("SUBJECT IN VEHICLE", "VICTIM LOCATION", promptVictimLocation,
		ask(StateVehicleStatusWithVictim), finish(ResultVehicleVictimSeparate)),
	StateVictimLocationInBuilding: yesNo("SUBJECT IN BUILDING", "VICTIM LOCATION", promptVictimLocation,
		ask(StateBuildingTypeWithVictim), finish(ResultBuildingVictimSeparate)),

	StateVehicleStatusWithVictim: yesNo("SUBJECT IN VEHICLE", "VEHICLE STATUS", promptVehicle,
		finish(ResultVehicleVictimWithMobile), finish(ResultVehicleVictimWithStatic)),
	StateVehicleStatusNoVictim: yesNo("SUBJECT IN VEHICLE", "VEHICLE STATUS", promptVehicle,
		finish(ResultVehicleNoVictimMobile), finish(ResultVehicleNoVictimStatic)),

	StateBuildingTypeWithVictim: yesNo("SUBJECT IN BUILDING", "BUILDING", promptBuilding,
		ask(StateOtherResidentsWithVictim), finish(ResultBuildingVictimWithNonDetached)),
	StateBuildingTypeNoVictim: yesNo("SUBJECT IN BUILDING", "BUILDING", promptBuilding,
		ask(StateOtherResidentsNoVictim), finish(ResultBuildingNoVictimNonDetached)),

	StateOtherResidentsWithVictim: yesNo("SUBJECT IN BUILDING", "OTHER RESIDENTS", promptResidents,
		finish(ResultBuildingVictimWithDetachedOthers), finish(ResultBuildingVictimWithDetachedNoOthers)),
	StateOtherResidentsNoVictim: yesNo("SUBJECT IN BUILDING", "OTHER RESIDENTS", promptResidents,
		finish(ResultBuildingNoVictimDetachedOthers), finish(ResultBuildingNoVictimDetachedNoOthers)),
}

// QuestionFor returns the question shown in state s.
func QuestionFor(s State) (Question, bool) {
	n, ok := machine[s]
	if !ok {
		return Question{}, false
	}
	return Question{
		State:   s,
		Header:  n.header,
		Title:   n.title,
		Prompt:  n.prompt,
		Answers: append([]Answer(nil), n.order...),
	}, true
}

// Step applies one answer in state s. Exactly one of next and resultID is set
// on success.
func Step(s State, a Answer) (next State, resultID string, err error) {
	n, ok := machine[s]
	if !ok {
		return "", "", fmt.Errorf("questionnaire: unknown state %q", s)
	}
	t, ok := n.edges[a]
	if !ok {
		return "", "", fmt.Errorf("%w: %s does not accept %s", ErrInvalidAnswer, s, a)
	}
	return t.next, t.result, nil
}

// Evaluate walks the tree from the first question and returns the result the
// answers lead to.
func Evaluate(answers []Answer) (Result, error) {
	w := NewWalker()
	for i, a := range answers {
		if w.Done() {
			return Result{}, fmt.Errorf("%w: %d answers left over", ErrFinished, len(answers)-i)
		}
		if err := w.Answer(a); err != nil {
			return Result{}, err
		}
	}
	res, ok := w.Result()
	if !ok {
		return Result{}, fmt.Errorf("%w: stopped at %s", ErrIncomplete, w.state)
	}
	return res, nil
}
