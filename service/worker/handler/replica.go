package handler

import (
	"strings"

	"github.com/clyso/crr/pkg/backend"
	"github.com/clyso/crr/pkg/entity"
	"github.com/clyso/crr/pkg/source"
)

const (
	MetaSourceVersionID      = "crr-source-version-id"
	MetaSourceBucket         = "crr-source-bucket"
	MetaSourceETag           = "crr-source-etag"
	MetaReplicationStatus    = "crr-replication-status"
	ReplicationStatusReplica = "REPLICA"
)

// TargetKey returns destination object key for source object.
func TargetKey(bucket, key string, prefixSourceBucket bool) string {
	if prefixSourceBucket {
		return bucket + "/" + key
	}
	return key
}

// replicaMeta copies source user metadata and marks object as replica.
func replicaMeta(e entity.Entry, info source.Info) backend.Metadata {
	meta := make(backend.Metadata, len(info.Metadata)+4)
	for k, v := range info.Metadata {
		k = strings.ToLower(k)
		if strings.HasPrefix(k, "crr-") {
			continue
		}
		meta[k] = v
	}
	meta[MetaReplicationStatus] = ReplicationStatusReplica
	meta[MetaSourceBucket] = e.Source.Bucket
	version := info.VersionID
	if version == "" {
		version = e.Source.Version
	}
	if version != "" {
		meta[MetaSourceVersionID] = version
	}
	etag := strings.Trim(info.ETag, `"`)
	if etag == "" {
		etag = e.Checksum
	}
	if etag != "" {
		meta[MetaSourceETag] = etag
	}
	return meta
}

// isReplicaOf reports whether destination object is already a replica
// of the entry source version.
func isReplicaOf(info backend.ObjectInfo, e entity.Entry) bool {
	if metaValue(info.Metadata, MetaReplicationStatus) != ReplicationStatusReplica {
		return false
	}
	if e.Source.Version != "" {
		return metaValue(info.Metadata, MetaSourceVersionID) == e.Source.Version
	}
	return e.Checksum != "" && metaValue(info.Metadata, MetaSourceETag) == e.Checksum
}

func metaValue(meta backend.Metadata, key string) string {
	if v, ok := meta[key]; ok {
		return v
	}
	for k, v := range meta {
		if strings.EqualFold(strings.ReplaceAll(k, "_", "-"), key) {
			return v
		}
	}
	return ""
}
