package contact

// strategy decodes one kind of card.
type strategy interface {
	Kind() CardKind
	decode(d *decoder, c Card) CardResult
}

type (
	plainCategoriesStrategy  struct{}
	signedEmailsStrategy     struct{}
	encryptedOnlyStrategy    struct{}
	encryptedDetailsStrategy struct{}
)

func (plainCategoriesStrategy) Kind() CardKind  { return PlainCategories }
func (signedEmailsStrategy) Kind() CardKind     { return SignedEmails }
func (encryptedOnlyStrategy) Kind() CardKind    { return EncryptedOnly }
func (encryptedDetailsStrategy) Kind() CardKind { return EncryptedDetails }

// classify returns the decode strategy for a card kind.
func classify(kind CardKind) (strategy, bool) {
	switch kind {
	case PlainCategories:
		return plainCategoriesStrategy{}, true
	case SignedEmails:
		return signedEmailsStrategy{}, true
	case EncryptedOnly:
		return encryptedOnlyStrategy{}, true
	case EncryptedDetails:
		return encryptedDetailsStrategy{}, true
	default:
		return nil, false
	}
}

// dispatched pairs a card with its strategy.
type dispatched struct {
	card     Card
	strategy strategy
}

// dispatch orders cards ascending by kind and pairs each with its decode
// strategy. Cards of unknown kinds are returned separately.
func dispatch(cards []Card) (known []dispatched, unknown []Card) {
	for _, c := range CardSet(cards).Sorted() {
		s, ok := classify(c.Kind)
		if !ok {
			unknown = append(unknown, c)
			continue
		}
		known = append(known, dispatched{card: c, strategy: s})
	}
	return known, unknown
}
