package store

import (
	"context"
	"database/sql"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/matthewbaird/rentflow/internal/domain"
)

// CreateUser inserts a user account. The password must already be hashed.
func (c *Conn) CreateUser(ctx context.Context, u *domain.User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	created := nowText()
	u.CreatedAt = parseTime(created)
	q, args := c.b().Insert("users").
		Columns("id", "email", "password_hash", "created_at").
		Values(u.ID.String(), u.Email, u.PasswordHash, created).
		Query()
	if _, err := c.exec(ctx, q, args); err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

// UserByEmail looks up a user account.
func (c *Conn) UserByEmail(ctx context.Context, email string) (*domain.User, error) {
	q, args := c.b().Select("id", "email", "password_hash", "created_at").
		From(c.b().Table("users")).
		Where(entsql.EQ("email", email)).Query()
	var u domain.User
	err := c.queryOne(ctx, q, args, func(s scanner) error {
		var created string
		if err := s.Scan(&u.ID, &u.Email, &u.PasswordHash, &created); err != nil {
			return err
		}
		u.CreatedAt = parseTime(created)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateProfile attaches a user to an agency. The profile id is the user id.
func (c *Conn) CreateProfile(ctx context.Context, p *domain.Profile) error {
	q, args := c.b().Insert("profiles").
		Columns("id", "agency_id", "first_name", "last_name", "phone", "role").
		Values(p.ID.String(), p.AgencyID.String(), p.FirstName, p.LastName, nullString(p.Phone), string(p.Role)).
		Query()
	if _, err := c.exec(ctx, q, args); err != nil {
		return fmt.Errorf("inserting profile: %w", err)
	}
	return nil
}

// GetProfile loads the profile of a user.
func (c *Conn) GetProfile(ctx context.Context, userID uuid.UUID) (*domain.Profile, error) {
	q, args := c.b().Select("id", "agency_id", "first_name", "last_name", "phone", "role").
		From(c.b().Table("profiles")).
		Where(entsql.EQ("id", userID.String())).Query()
	var p domain.Profile
	err := c.queryOne(ctx, q, args, func(s scanner) error {
		var phone sql.NullString
		var role string
		if err := s.Scan(&p.ID, &p.AgencyID, &p.FirstName, &p.LastName, &phone, &role); err != nil {
			return err
		}
		p.Phone = phone.String
		p.Role = domain.Role(role)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateAdministrator records that a user administers an agency.
func (c *Conn) CreateAdministrator(ctx context.Context, agencyID, userID uuid.UUID) error {
	q, args := c.b().Insert("administrators").
		Columns("id", "agency_id", "user_id", "created_at").
		Values(uuid.NewString(), agencyID.String(), userID.String(), nowText()).
		Query()
	if _, err := c.exec(ctx, q, args); err != nil {
		return fmt.Errorf("inserting administrator: %w", err)
	}
	return nil
}

// CreateProperty inserts a property.
func (c *Conn) CreateProperty(ctx context.Context, p *domain.Property) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	created := nowText()
	p.CreatedAt = parseTime(created)
	q, args := c.b().Insert("properties").
		Columns("id", "agency_id", "name", "address", "created_at").
		Values(p.ID.String(), p.AgencyID.String(), p.Name, nullString(p.Address), created).
		Query()
	if _, err := c.exec(ctx, q, args); err != nil {
		return fmt.Errorf("inserting property: %w", err)
	}
	return nil
}

// ListProperties returns the properties of an agency by name.
func (c *Conn) ListProperties(ctx context.Context, agencyID uuid.UUID) ([]*domain.Property, error) {
	q, args := c.b().Select("id", "agency_id", "name", "address", "created_at").
		From(c.b().Table("properties")).
		Where(entsql.EQ("agency_id", agencyID.String())).
		OrderBy("name").Query()
	var out []*domain.Property
	err := c.query(ctx, q, args, func(s scanner) error {
		var (
			p       domain.Property
			address sql.NullString
			created string
		)
		if err := s.Scan(&p.ID, &p.AgencyID, &p.Name, &address, &created); err != nil {
			return err
		}
		p.Address = address.String
		p.CreatedAt = parseTime(created)
		out = append(out, &p)
		return nil
	})
	return out, err
}

// GetProperty loads a property within an agency.
func (c *Conn) GetProperty(ctx context.Context, agencyID, id uuid.UUID) (*domain.Property, error) {
	q, args := c.b().Select("id", "agency_id", "name", "address", "created_at").
		From(c.b().Table("properties")).
		Where(entsql.And(entsql.EQ("id", id.String()), entsql.EQ("agency_id", agencyID.String()))).Query()
	var p domain.Property
	err := c.queryOne(ctx, q, args, func(s scanner) error {
		var address sql.NullString
		var created string
		if err := s.Scan(&p.ID, &p.AgencyID, &p.Name, &address, &created); err != nil {
			return err
		}
		p.Address = address.String
		p.CreatedAt = parseTime(created)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateUnit inserts a unit under a property.
func (c *Conn) CreateUnit(ctx context.Context, u *domain.Unit) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	created := nowText()
	u.CreatedAt = parseTime(created)
	q, args := c.b().Insert("units").
		Columns("id", "agency_id", "property_id", "name", "rent_amount", "created_at").
		Values(u.ID.String(), u.AgencyID.String(), u.PropertyID.String(), u.Name, u.RentAmount, created).
		Query()
	if _, err := c.exec(ctx, q, args); err != nil {
		return fmt.Errorf("inserting unit: %w", err)
	}
	return nil
}

var unitColumns = []string{"id", "agency_id", "property_id", "name", "rent_amount", "created_at"}

func scanUnit(s scanner) (*domain.Unit, error) {
	var u domain.Unit
	var created string
	if err := s.Scan(&u.ID, &u.AgencyID, &u.PropertyID, &u.Name, &u.RentAmount, &created); err != nil {
		return nil, err
	}
	u.CreatedAt = parseTime(created)
	return &u, nil
}

// GetUnit loads a unit within an agency.
func (c *Conn) GetUnit(ctx context.Context, agencyID, id uuid.UUID) (*domain.Unit, error) {
	q, args := c.b().Select(unitColumns...).From(c.b().Table("units")).
		Where(entsql.And(entsql.EQ("id", id.String()), entsql.EQ("agency_id", agencyID.String()))).Query()
	var u *domain.Unit
	err := c.queryOne(ctx, q, args, func(s scanner) (err error) {
		u, err = scanUnit(s)
		return err
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// ListUnits returns the units of a property.
func (c *Conn) ListUnits(ctx context.Context, agencyID, propertyID uuid.UUID) ([]*domain.Unit, error) {
	q, args := c.b().Select(unitColumns...).From(c.b().Table("units")).
		Where(entsql.And(entsql.EQ("property_id", propertyID.String()), entsql.EQ("agency_id", agencyID.String()))).
		OrderBy("name").Query()
	var out []*domain.Unit
	err := c.query(ctx, q, args, func(s scanner) error {
		u, err := scanUnit(s)
		if err != nil {
			return err
		}
		out = append(out, u)
		return nil
	})
	return out, err
}

// CreateTenant inserts a tenant.
func (c *Conn) CreateTenant(ctx context.Context, t *domain.Tenant) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	created := nowText()
	t.CreatedAt = parseTime(created)
	q, args := c.b().Insert("tenants").
		Columns("id", "agency_id", "first_name", "last_name", "email", "phone", "created_at").
		Values(t.ID.String(), t.AgencyID.String(), t.FirstName, t.LastName, nullString(t.Email), nullString(t.Phone), created).
		Query()
	if _, err := c.exec(ctx, q, args); err != nil {
		return fmt.Errorf("inserting tenant: %w", err)
	}
	return nil
}

var tenantColumns = []string{"id", "agency_id", "first_name", "last_name", "email", "phone", "created_at"}

func scanTenant(s scanner) (*domain.Tenant, error) {
	var (
		t            domain.Tenant
		email, phone sql.NullString
		created      string
	)
	if err := s.Scan(&t.ID, &t.AgencyID, &t.FirstName, &t.LastName, &email, &phone, &created); err != nil {
		return nil, err
	}
	t.Email = email.String
	t.Phone = phone.String
	t.CreatedAt = parseTime(created)
	return &t, nil
}

// GetTenant loads a tenant within an agency.
func (c *Conn) GetTenant(ctx context.Context, agencyID, id uuid.UUID) (*domain.Tenant, error) {
	q, args := c.b().Select(tenantColumns...).From(c.b().Table("tenants")).
		Where(entsql.And(entsql.EQ("id", id.String()), entsql.EQ("agency_id", agencyID.String()))).Query()
	var t *domain.Tenant
	err := c.queryOne(ctx, q, args, func(s scanner) (err error) {
		t, err = scanTenant(s)
		return err
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListTenants returns the tenants of an agency.
func (c *Conn) ListTenants(ctx context.Context, agencyID uuid.UUID) ([]*domain.Tenant, error) {
	q, args := c.b().Select(tenantColumns...).From(c.b().Table("tenants")).
		Where(entsql.EQ("agency_id", agencyID.String())).
		OrderBy("last_name", "first_name").Query()
	var out []*domain.Tenant
	err := c.query(ctx, q, args, func(s scanner) error {
		t, err := scanTenant(s)
		if err != nil {
			return err
		}
		out = append(out, t)
		return nil
	})
	return out, err
}
