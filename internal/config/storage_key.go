package config

import (
	"fmt"
	"strings"
)

type StorageKeyStruct struct {
	namespace string
}

func NewStorageKeyStruct(namespace string) *StorageKeyStruct {
	return &StorageKeyStruct{namespace: namespace}
}

// ProgressPrefix returns the prefix shared by every progress record key
func (k *StorageKeyStruct) ProgressPrefix() string {
	return k.namespace + ":progress:"
}

// ProgressKey returns the storage key for an exam's progress record
func (k *StorageKeyStruct) ProgressKey(examID string) string {
	return fmt.Sprintf("%s:progress:%s", k.namespace, examID)
}

// ExamIDFromProgressKey recovers the exam ID from a progress key
func (k *StorageKeyStruct) ExamIDFromProgressKey(key string) (string, bool) {
	id, ok := strings.CutPrefix(key, k.ProgressPrefix())
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// StatsKey returns the storage key for a user's aggregate statistics
func (k *StorageKeyStruct) StatsKey(userID string) string {
	return fmt.Sprintf("%s:stats:%s", k.namespace, userID)
}

var StorageKey = NewStorageKeyStruct("exstem")
