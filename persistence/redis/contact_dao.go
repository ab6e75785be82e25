package redis

import (
	"context"
	"errors"

	rd "github.com/go-redis/redis/v9"
	"github.com/converso/flowengine/model"
	"github.com/converso/flowengine/persistence"
	"github.com/converso/flowengine/util"
)

const CONTACT_KEY string = "CONTACT"
const CONTACT_TAGS_KEY string = "CONTACT_TAGS"

var _ persistence.ContactStorage = new(redisContactDao)

// redisContactDao adapts the contact/conversation store to the engine.
// The contact document lives in a key, tags in a companion set so tag
// mutations need no read-modify-write.
type redisContactDao struct {
	baseDao
	encoderDecoder util.EncoderDecoder[model.Contact]
}

func NewRedisContactDao(conf Config) *redisContactDao {
	return &redisContactDao{
		baseDao:        *newBaseDao(conf),
		encoderDecoder: util.NewJsonEncoderDecoder[model.Contact](),
	}
}

func (rcd *redisContactDao) SaveContact(contact *model.Contact) error {
	ctx := context.Background()
	data, err := rcd.encoderDecoder.Encode(*contact)
	if err != nil {
		return err
	}
	pipe := rcd.redisClient.Pipeline()
	pipe.Set(ctx, rcd.getNamespaceKey(CONTACT_KEY, contact.Id), data, 0)
	tagsKey := rcd.getNamespaceKey(CONTACT_TAGS_KEY, contact.Id)
	pipe.Del(ctx, tagsKey)
	if len(contact.Tags) > 0 {
		members := make([]any, 0, len(contact.Tags))
		for _, t := range contact.Tags {
			members = append(members, t)
		}
		pipe.SAdd(ctx, tagsKey, members...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rcd *redisContactDao) GetContact(contactId string) (*model.Contact, error) {
	ctx := context.Background()
	data, err := rcd.redisClient.Get(ctx, rcd.getNamespaceKey(CONTACT_KEY, contactId)).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, nil
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	contact, err := rcd.encoderDecoder.Decode([]byte(data))
	if err != nil {
		return nil, err
	}
	tags, err := rcd.redisClient.SMembers(ctx, rcd.getNamespaceKey(CONTACT_TAGS_KEY, contactId)).Result()
	if err != nil && !errors.Is(err, rd.Nil) {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	contact.Tags = tags
	return contact, nil
}

func (rcd *redisContactDao) AddTag(contactId string, tag string) error {
	ctx := context.Background()
	if err := rcd.redisClient.SAdd(ctx, rcd.getNamespaceKey(CONTACT_TAGS_KEY, contactId), tag).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rcd *redisContactDao) RemoveTag(contactId string, tag string) error {
	ctx := context.Background()
	if err := rcd.redisClient.SRem(ctx, rcd.getNamespaceKey(CONTACT_TAGS_KEY, contactId), tag).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rcd *redisContactDao) UpdateField(contactId string, field string, value string) error {
	contact, err := rcd.GetContact(contactId)
	if err != nil {
		return err
	}
	if contact == nil {
		return persistence.StorageLayerError{Message: "contact " + contactId + " not found"}
	}
	switch field {
	case "name":
		contact.Name = value
	case "phone_number":
		contact.PhoneNumber = value
	case "email":
		contact.Email = value
	default:
		if contact.Fields == nil {
			contact.Fields = make(map[string]string)
		}
		contact.Fields[field] = value
	}
	return rcd.SaveContact(contact)
}

func (rcd *redisContactDao) MarkNeedsHuman(contactId string) error {
	contact, err := rcd.GetContact(contactId)
	if err != nil {
		return err
	}
	if contact == nil {
		return persistence.StorageLayerError{Message: "contact " + contactId + " not found"}
	}
	contact.NeedsHuman = true
	return rcd.SaveContact(contact)
}

func (rcd *redisContactDao) SetActiveExecution(contactId string, executionId string) error {
	ctx := context.Background()
	key := rcd.getNamespaceKey(CONTACT_KEY, contactId, "execution")
	if executionId == "" {
		if err := rcd.redisClient.Del(ctx, key).Err(); err != nil {
			return persistence.StorageLayerError{Message: err.Error()}
		}
		return nil
	}
	if err := rcd.redisClient.Set(ctx, key, executionId, 0).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}
