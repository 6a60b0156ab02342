// Package entity holds the data model shared by the resolution and ranking
// engines: entities, canonical references, token rows, articles and
// per-article mention allocations.
package entity

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Classification is the resolution state of an entity.
type Classification string

const (
	Canonical   Classification = "CANONICAL"
	Alias       Classification = "ALIAS"
	Ambiguous   Classification = "AMBIGUOUS"
	NotAnEntity Classification = "NOT_AN_ENTITY"
)

// validClassifications is the set of recognized classifications for parsing.
var validClassifications = map[Classification]bool{
	Canonical:   true,
	Alias:       true,
	Ambiguous:   true,
	NotAnEntity: true,
}

// ParseClassification accepts any casing and "-" or " " as separators.
func ParseClassification(s string) (Classification, error) {
	c := Classification(strings.ToUpper(strings.NewReplacer("-", "_", " ", "_").Replace(strings.TrimSpace(s))))
	if !validClassifications[c] {
		return "", fmt.Errorf("unknown classification %q", s)
	}
	return c, nil
}

func (c Classification) String() string { return string(c) }

// Type is the recognizer tag of an entity.
type Type string

const (
	TypePerson    Type = "PERSON"
	TypeOrg       Type = "ORG"
	TypeGPE       Type = "GPE"
	TypeEvent     Type = "EVENT"
	TypeProduct   Type = "PRODUCT"
	TypeNORP      Type = "NORP"
	TypeFac       Type = "FAC"
	TypeLoc       Type = "LOC"
	TypeWorkOfArt Type = "WORK_OF_ART"
	TypeLaw       Type = "LAW"
	TypeLanguage  Type = "LANGUAGE"
	TypeDate      Type = "DATE"
	TypeTime      Type = "TIME"
	TypePercent   Type = "PERCENT"
	TypeMoney     Type = "MONEY"
	TypeQuantity  Type = "QUANTITY"
	TypeOrdinal   Type = "ORDINAL"
	TypeCardinal  Type = "CARDINAL"
	TypeMisc      Type = "MISC"
)

var validTypes = map[Type]bool{
	TypePerson: true, TypeOrg: true, TypeGPE: true, TypeEvent: true,
	TypeProduct: true, TypeNORP: true, TypeFac: true, TypeLoc: true,
	TypeWorkOfArt: true, TypeLaw: true, TypeLanguage: true, TypeDate: true,
	TypeTime: true, TypePercent: true, TypeMoney: true, TypeQuantity: true,
	TypeOrdinal: true, TypeCardinal: true, TypeMisc: true,
}

// ParseType normalizes a recognizer label. Long-form labels such as
// "PER" or "ORGANIZATION" are folded into the fixed tag set.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case "PER":
		t = TypePerson
	case "ORGANIZATION":
		t = TypeOrg
	case "LOCATION":
		t = TypeLoc
	}
	if !validTypes[t] {
		return "", fmt.Errorf("unknown entity type %q", s)
	}
	return t, nil
}

// DefaultRankedTypes are the entity types that take part in the
// co-occurrence graph.
var DefaultRankedTypes = []Type{
	TypePerson, TypeOrg, TypeGPE, TypeEvent, TypeProduct, TypeNORP, TypeFac, TypeLoc,
}

// Entity is an identity record. ID is zero until the entity is persisted.
type Entity struct {
	ID                   int64          `json:"id"`
	Name                 string         `json:"name"`
	NameLength           int            `json:"nameLength"`
	Type                 Type           `json:"type"`
	Classification       Classification `json:"classification"`
	IsGroup              bool           `json:"isGroup"`
	PageRank             float64        `json:"pagerank"`
	GlobalRelevance      float64        `json:"globalRelevance"`
	ArticleCount         int            `json:"articleCount"`
	AvgLocalRelevance    float64        `json:"avgLocalRelevance"`
	Diversity            int            `json:"diversity"`
	LastRankCalculatedAt *time.Time     `json:"lastRankCalculatedAt,omitempty"`
	ReviewedAt           *time.Time     `json:"reviewedAt,omitempty"`
}

// New builds an unpersisted CANONICAL entity with its cached name length.
func New(name string, typ Type) Entity {
	return Entity{
		Name:           name,
		NameLength:     NameLength(name),
		Type:           typ,
		Classification: Canonical,
	}
}

// NameLength is the ordering key used by candidate discovery.
func NameLength(name string) int {
	return utf8.RuneCountInString(name)
}

// Persisted reports whether the entity has a stable identity.
func (e Entity) Persisted() bool { return e.ID > 0 }

// Reference is a directed edge entity -> canonical.
type Reference struct {
	EntityID    int64 `json:"entityId"`
	CanonicalID int64 `json:"canonicalId"`
}

// Token is one reverse-index row of an entity name.
type Token struct {
	EntityID          int64  `json:"entityId"`
	Token             string `json:"token"`
	Normalized        string `json:"tokenNormalized"`
	Position          int    `json:"position"`
	IsStopword        bool   `json:"isStopword"`
	SeemsLikeInitials bool   `json:"seemsLikeInitials"`
}

// Origin tells whether a mention row came from the recognizer or was
// injected by weight transfer from an alias or ambiguous entity.
type Origin string

const (
	OriginDetected Origin = "DETECTED"
	OriginDerived  Origin = "DERIVED"
)

// Article is the slice of an article the engine needs.
type Article struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Subtitle    string    `json:"subtitle"`
	Body        string    `json:"body"`
	PublishedAt time.Time `json:"publishedAt"`
}

// Text is the searchable text of the article.
func (a Article) Text() string {
	return a.Title + "\n" + a.Subtitle + "\n" + a.Body
}

// Mention is a per-article allocation row.
type Mention struct {
	ArticleID        int64    `json:"articleId"`
	EntityID         int64    `json:"entityId"`
	Mentions         int      `json:"mentions"`
	Relevance        float64  `json:"relevance"`
	Origin           Origin   `json:"origin"`
	ContextSentences []string `json:"contextSentences,omitempty"`
	SentenceIndices  []int    `json:"sentenceIndices,omitempty"`
}
