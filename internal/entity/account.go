package entity

import (
	"encoding/json"
	"fmt"

	"github.com/oportunyfam/chatsync/common"
	"github.com/oportunyfam/chatsync/pkg/constant"
	"github.com/oportunyfam/chatsync/pkg/errcode"
)

// UserAccount is a person using the app (family member, volunteer)
type UserAccount struct {
	Id    int64  `json:"id"`
	Name  string `json:"nome"`
	Email string `json:"email"`
}

// InstitutionAccount is an NGO registered on the platform
type InstitutionAccount struct {
	Id    int64  `json:"id"`
	Name  string `json:"nome"`
	CNPJ  string `json:"cnpj"`
	Email string `json:"email"`
}

// Validate checks the institution's tax id
func (i *InstitutionAccount) Validate() error {
	if !common.ValidCNPJ(i.CNPJ) {
		return fmt.Errorf("%w: institution_id=%d", errcode.ErrInvalidCNPJ, i.Id)
	}
	return nil
}

// Account is a tagged union over the account kinds, discriminated by "tipo".
// Exactly one of User or Institution is set after decoding.
type Account struct {
	Type        string
	User        *UserAccount
	Institution *InstitutionAccount
}

type accountTag struct {
	Type string `json:"tipo"`
}

// UnmarshalJSON decodes the payload according to its "tipo" field only
func (a *Account) UnmarshalJSON(data []byte) error {
	var tag accountTag
	if err := json.Unmarshal(data, &tag); err != nil {
		return err
	}

	switch tag.Type {
	case constant.AccountTypeUser:
		var u UserAccount
		if err := json.Unmarshal(data, &u); err != nil {
			return err
		}
		*a = Account{Type: tag.Type, User: &u}
	case constant.AccountTypeInstitution:
		var i InstitutionAccount
		if err := json.Unmarshal(data, &i); err != nil {
			return err
		}
		*a = Account{Type: tag.Type, Institution: &i}
	default:
		return fmt.Errorf("%w: tipo=%q", errcode.ErrUnknownAccountType, tag.Type)
	}
	return nil
}

// MarshalJSON writes the variant fields plus the "tipo" discriminant
func (a Account) MarshalJSON() ([]byte, error) {
	switch {
	case a.User != nil:
		return json.Marshal(struct {
			Type string `json:"tipo"`
			*UserAccount
		}{constant.AccountTypeUser, a.User})
	case a.Institution != nil:
		return json.Marshal(struct {
			Type string `json:"tipo"`
			*InstitutionAccount
		}{constant.AccountTypeInstitution, a.Institution})
	default:
		return nil, fmt.Errorf("%w: empty account", errcode.ErrUnknownAccountType)
	}
}

// Id returns the id of whichever variant is set
func (a *Account) Id() int64 {
	switch {
	case a.User != nil:
		return a.User.Id
	case a.Institution != nil:
		return a.Institution.Id
	}
	return 0
}

// DisplayName returns the label shown in the chat header
func (a *Account) DisplayName() string {
	switch {
	case a.User != nil:
		return a.User.Name
	case a.Institution != nil:
		return a.Institution.Name
	}
	return ""
}

// Validate runs the variant-specific checks
func (a *Account) Validate() error {
	if a.Institution != nil {
		return a.Institution.Validate()
	}
	if a.User == nil {
		return fmt.Errorf("%w: empty account", errcode.ErrUnknownAccountType)
	}
	return nil
}
