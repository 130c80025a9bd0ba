package store

import (
	"github.com/reboot-codes/cloverhub/pkg/models"
)

// Reverse-DNS user types for the master and core subsystem users.
const (
	UserTypeMaster          = "com.reboot-codes.clover.master"
	UserTypeEvtBuzz         = "com.reboot-codes.clover.evtbuzz"
	UserTypeArbiter         = "com.reboot-codes.clover.arbiter"
	UserTypeRenderer        = "com.reboot-codes.clover.renderer"
	UserTypeAppD            = "com.reboot-codes.clover.appd"
	UserTypeModMan          = "com.reboot-codes.clover.modman"
	UserTypeInferenceEngine = "com.reboot-codes.clover.inference-engine"
	UserTypeWarehouse       = "com.reboot-codes.clover.warehouse"
)

// NewConfiguredStore creates a store seeded with the master user and one
// core user per internal subsystem. All seven core users exist before the
// bus starts so internal channels can reference them.
func NewConfiguredStore() (*Store, models.CoreUser, models.CoreUsers) {
	s := New()

	master := s.addCoreUser(UserTypeMaster, "Master User")
	core := models.CoreUsers{
		EvtBuzz:         s.addCoreUser(UserTypeEvtBuzz, "EvtBuzz"),
		Arbiter:         s.addCoreUser(UserTypeArbiter, "Arbiter"),
		Renderer:        s.addCoreUser(UserTypeRenderer, "Renderer"),
		AppD:            s.addCoreUser(UserTypeAppD, "appd"),
		ModMan:          s.addCoreUser(UserTypeModMan, "ModMan"),
		InferenceEngine: s.addCoreUser(UserTypeInferenceEngine, "Inference Engine"),
		Warehouse:       s.addCoreUser(UserTypeWarehouse, "Warehouse"),
	}

	return s, master, core
}

// addCoreUser creates one internal user with wildcard permissions on both
// pattern lists and echo enabled, returning its credentials.
func (s *Store) addCoreUser(userType, prettyName string) models.CoreUser {
	id := s.GenerateUserID()
	key := s.GenerateAPIKey()

	s.AddUser(models.UserConfig{
		ID:         id,
		UserType:   userType,
		PrettyName: prettyName,
		APIKeys: []models.KeySpec{{
			Key:               key,
			AllowedEventsTo:   []string{".*"},
			AllowedEventsFrom: []string{".*"},
			Echo:              true,
		}},
	})

	return models.CoreUser{ID: id, APIKey: key}
}
