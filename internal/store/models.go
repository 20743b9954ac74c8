package store

import (
	"time"
)

type Profile struct {
	ID                 string    `json:"id"`
	OwnerID            string    `json:"ownerId"`
	Name               string    `json:"name"`
	OriginCountry      string    `json:"originCountry"`
	Age                int       `json:"age"`
	Gender             string    `json:"gender"`
	PrimaryLanguage    string    `json:"primaryLanguage"`
	SecondaryLanguages []string  `json:"secondaryLanguages"`
	Images             []string  `json:"images"`
	PersonaTags        []string  `json:"personaTags"`
	MBTIType           string    `json:"mbtiType"`
	Backstory          string    `json:"backstory"`
	HiddenRules        string    `json:"hiddenRules"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// ProfilePatch is a partial profile update. Nil fields are left untouched,
// which keeps concurrent writers from clobbering fields they did not edit.
type ProfilePatch struct {
	Name               *string   `json:"name,omitempty"`
	OriginCountry      *string   `json:"originCountry,omitempty"`
	Age                *int      `json:"age,omitempty"`
	Gender             *string   `json:"gender,omitempty"`
	PrimaryLanguage    *string   `json:"primaryLanguage,omitempty"`
	SecondaryLanguages *[]string `json:"secondaryLanguages,omitempty"`
	Images             *[]string `json:"images,omitempty"`
	PersonaTags        *[]string `json:"personaTags,omitempty"`
	MBTIType           *string   `json:"mbtiType,omitempty"`
	Backstory          *string   `json:"backstory,omitempty"`
	HiddenRules        *string   `json:"hiddenRules,omitempty"`
}

// Field names as they appear in ProfilePatch JSON and change notifications.
const (
	FieldName               = "name"
	FieldOriginCountry      = "originCountry"
	FieldAge                = "age"
	FieldGender             = "gender"
	FieldPrimaryLanguage    = "primaryLanguage"
	FieldSecondaryLanguages = "secondaryLanguages"
	FieldImages             = "images"
	FieldPersonaTags        = "personaTags"
	FieldMBTIType           = "mbtiType"
	FieldBackstory          = "backstory"
	FieldHiddenRules        = "hiddenRules"
)

// Fields returns the names of the fields set on the patch.
func (p ProfilePatch) Fields() []string {
	var fields []string
	if p.Name != nil {
		fields = append(fields, FieldName)
	}
	if p.OriginCountry != nil {
		fields = append(fields, FieldOriginCountry)
	}
	if p.Age != nil {
		fields = append(fields, FieldAge)
	}
	if p.Gender != nil {
		fields = append(fields, FieldGender)
	}
	if p.PrimaryLanguage != nil {
		fields = append(fields, FieldPrimaryLanguage)
	}
	if p.SecondaryLanguages != nil {
		fields = append(fields, FieldSecondaryLanguages)
	}
	if p.Images != nil {
		fields = append(fields, FieldImages)
	}
	if p.PersonaTags != nil {
		fields = append(fields, FieldPersonaTags)
	}
	if p.MBTIType != nil {
		fields = append(fields, FieldMBTIType)
	}
	if p.Backstory != nil {
		fields = append(fields, FieldBackstory)
	}
	if p.HiddenRules != nil {
		fields = append(fields, FieldHiddenRules)
	}
	return fields
}

func (p ProfilePatch) IsEmpty() bool {
	return len(p.Fields()) == 0
}

// ApplyTo copies the set fields of the patch onto profile.
func (p ProfilePatch) ApplyTo(profile *Profile) {
	if p.Name != nil {
		profile.Name = *p.Name
	}
	if p.OriginCountry != nil {
		profile.OriginCountry = *p.OriginCountry
	}
	if p.Age != nil {
		profile.Age = *p.Age
	}
	if p.Gender != nil {
		profile.Gender = *p.Gender
	}
	if p.PrimaryLanguage != nil {
		profile.PrimaryLanguage = *p.PrimaryLanguage
	}
	if p.SecondaryLanguages != nil {
		profile.SecondaryLanguages = cloneStrings(*p.SecondaryLanguages)
	}
	if p.Images != nil {
		profile.Images = cloneStrings(*p.Images)
	}
	if p.PersonaTags != nil {
		profile.PersonaTags = cloneStrings(*p.PersonaTags)
	}
	if p.MBTIType != nil {
		profile.MBTIType = *p.MBTIType
	}
	if p.Backstory != nil {
		profile.Backstory = *p.Backstory
	}
	if p.HiddenRules != nil {
		profile.HiddenRules = *p.HiddenRules
	}
}

// Only keeps the listed fields of the patch.
func (p ProfilePatch) Only(fields ...string) ProfilePatch {
	keep := make(map[string]bool, len(fields))
	for _, f := range fields {
		keep[f] = true
	}
	var out ProfilePatch
	if keep[FieldName] {
		out.Name = p.Name
	}
	if keep[FieldOriginCountry] {
		out.OriginCountry = p.OriginCountry
	}
	if keep[FieldAge] {
		out.Age = p.Age
	}
	if keep[FieldGender] {
		out.Gender = p.Gender
	}
	if keep[FieldPrimaryLanguage] {
		out.PrimaryLanguage = p.PrimaryLanguage
	}
	if keep[FieldSecondaryLanguages] {
		out.SecondaryLanguages = p.SecondaryLanguages
	}
	if keep[FieldImages] {
		out.Images = p.Images
	}
	if keep[FieldPersonaTags] {
		out.PersonaTags = p.PersonaTags
	}
	if keep[FieldMBTIType] {
		out.MBTIType = p.MBTIType
	}
	if keep[FieldBackstory] {
		out.Backstory = p.Backstory
	}
	if keep[FieldHiddenRules] {
		out.HiddenRules = p.HiddenRules
	}
	return out
}

// PatchFromProfile builds a patch that sets every field of profile.
func PatchFromProfile(profile Profile) ProfilePatch {
	secondary := cloneStrings(profile.SecondaryLanguages)
	images := cloneStrings(profile.Images)
	tags := cloneStrings(profile.PersonaTags)
	return ProfilePatch{
		Name:               &profile.Name,
		OriginCountry:      &profile.OriginCountry,
		Age:                &profile.Age,
		Gender:             &profile.Gender,
		PrimaryLanguage:    &profile.PrimaryLanguage,
		SecondaryLanguages: &secondary,
		Images:             &images,
		PersonaTags:        &tags,
		MBTIType:           &profile.MBTIType,
		Backstory:          &profile.Backstory,
		HiddenRules:        &profile.HiddenRules,
	}
}

// Clone returns a deep copy of the profile.
func (p Profile) Clone() Profile {
	p.SecondaryLanguages = cloneStrings(p.SecondaryLanguages)
	p.Images = cloneStrings(p.Images)
	p.PersonaTags = cloneStrings(p.PersonaTags)
	return p
}

type KnowledgeRow struct {
	ID          string
	ProfileID   string
	OwnerID     string
	DisplayName string
	StorageKey  string
	SizeBytes   int64
	ContentType string
	PageCount   int
	Linked      bool
	UploadedAt  time.Time
}

func cloneStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}
