// Package medicine holds the fixed catalog of dispensing slots. Every per-kind
// lookup (display name, motor channel, provisioning count) goes through it.
package medicine

// Kind is the enumerated category of a medicine slot.
type Kind string

const (
	Fever       Kind = "fever"
	Cough       Kind = "cough"
	Cold        Kind = "cold"
	StomachAche Kind = "stomachAche"
)

// Info describes one physical slot.
type Info struct {
	Kind         Kind
	DisplayName  string
	Description  string
	MotorNumber  int // 1-based channel on the dispensing device
	DefaultStock int
}

var catalog = []Info{
	{Kind: Fever, DisplayName: "Paracetamol", Description: "Fever and mild pain relief", MotorNumber: 1, DefaultStock: 50},
	{Kind: Cough, DisplayName: "Cough Syrup", Description: "Dry and chesty cough", MotorNumber: 2, DefaultStock: 30},
	{Kind: Cold, DisplayName: "Antihistamine", Description: "Cold and allergy symptoms", MotorNumber: 3, DefaultStock: 40},
	{Kind: StomachAche, DisplayName: "Antacid", Description: "Indigestion and stomach ache", MotorNumber: 4, DefaultStock: 45},
}

var byKind = func() map[Kind]Info {
	m := make(map[Kind]Info, len(catalog))
	for _, info := range catalog {
		m[info.Kind] = info
	}
	return m
}()

// All returns the catalog ordered by motor number.
func All() []Info {
	out := make([]Info, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup returns the catalog entry for kind.
func Lookup(kind Kind) (Info, bool) {
	info, ok := byKind[kind]
	return info, ok
}

// MotorNumber maps kind to its 1-based motor channel, or 0 if kind is unknown.
func MotorNumber(kind Kind) int {
	return byKind[kind].MotorNumber
}

// Valid reports whether kind is part of the catalog.
func (k Kind) Valid() bool {
	_, ok := byKind[k]
	return ok
}

// SlotID is the stable ledger identifier of the slot holding kind.
func (k Kind) SlotID() string {
	return string(k)
}
