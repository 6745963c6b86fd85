package repos

import (
	"database/sql"

	"gorm.io/gorm"
)

// TxRunner is the slice of *gorm.DB that services need to run transactional
// units. *gorm.DB satisfies it directly; tests substitute a pass-through.
type TxRunner interface {
	Transaction(fc func(tx *gorm.DB) error, opts ...*sql.TxOptions) error
}
