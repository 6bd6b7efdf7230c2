// Package ddb implements the repository interface using AWS DynamoDB.
// This is the only layer that should have knowledge of DynamoDB specifics.
//
// Single-table layout:
//
//	Node item:  PK=NODE#<id>  SK=METADATA   GSI2PK=PARENT#<parentID>|ROOT
//	Tag item:   PK=NODE#<id>  SK=TAG#<tag>  GSI1PK=TAG#<tag>  GSI1SK=NODE#<id>
//
// GSI1 serves the tag-set query, GSI2 the children-of and roots listings.
package ddb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"arbor-backend/internal/domain"
	"arbor-backend/internal/repository"
	appErrors "arbor-backend/pkg/errors"
)

const (
	skMetadata = "METADATA"
	tagPrefix  = "TAG#"
	rootKey    = "ROOT"

	// transactLimit is the DynamoDB cap on items per TransactWriteItems call.
	transactLimit = 100
	// batchGetLimit is the DynamoDB cap on keys per BatchGetItem call.
	batchGetLimit = 100
)

// ddbNode represents the structure of a node item in DynamoDB.
type ddbNode struct {
	PK        string         `dynamodbav:"PK"`
	SK        string         `dynamodbav:"SK"`
	NodeID    string         `dynamodbav:"NodeID"`
	NodeType  string         `dynamodbav:"NodeType"`
	Name      string         `dynamodbav:"Name"`
	Slug      string         `dynamodbav:"Slug"`
	ParentID  string         `dynamodbav:"ParentID,omitempty"`
	Content   map[string]any `dynamodbav:"Content,omitempty"`
	Position  int            `dynamodbav:"Position"`
	Tags      []string       `dynamodbav:"Tags,omitempty"`
	Metadata  map[string]any `dynamodbav:"Metadata,omitempty"`
	CreatedBy string         `dynamodbav:"CreatedBy"`
	UpdatedBy string         `dynamodbav:"UpdatedBy"`
	CreatedAt string         `dynamodbav:"CreatedAt"`
	UpdatedAt string         `dynamodbav:"UpdatedAt"`
	GSI2PK    string         `dynamodbav:"GSI2PK"`
	GSI2SK    string         `dynamodbav:"GSI2SK"`
}

// ddbTag represents a tag index item in DynamoDB.
type ddbTag struct {
	PK     string `dynamodbav:"PK"`
	SK     string `dynamodbav:"SK"`
	GSI1PK string `dynamodbav:"GSI1PK"`
	GSI1SK string `dynamodbav:"GSI1SK"`
}

// Repository is the concrete implementation for DynamoDB.
type Repository struct {
	dbClient      *dynamodb.Client
	tableName     string
	tagIndexName  string
	treeIndexName string
	logger        *zap.Logger
}

// NewRepository creates a new instance of the DynamoDB repository.
func NewRepository(dbClient *dynamodb.Client, tableName, tagIndexName, treeIndexName string, logger *zap.Logger) *Repository {
	return &Repository{
		dbClient:      dbClient,
		tableName:     tableName,
		tagIndexName:  tagIndexName,
		treeIndexName: treeIndexName,
		logger:        logger,
	}
}

func nodePK(id string) string { return "NODE#" + id }

func parentKey(parentID string) string {
	if parentID == "" {
		return rootKey
	}
	return "PARENT#" + parentID
}

// CreateNode saves a node and its tag index items in a single transaction.
// The condition on the node item rejects ID collisions.
func (r *Repository) CreateNode(ctx context.Context, node *domain.Node) error {
	nodeItem, err := attributevalue.MarshalMap(toDDBNode(node))
	if err != nil {
		return appErrors.Wrap(err, "failed to marshal node item")
	}

	transactItems := []types.TransactWriteItem{{
		Put: &types.Put{
			TableName:           aws.String(r.tableName),
			Item:                nodeItem,
			ConditionExpression: aws.String("attribute_not_exists(PK)"),
		},
	}}

	tagItems, err := r.tagPuts(node)
	if err != nil {
		return err
	}
	transactItems = append(transactItems, tagItems...)

	_, err = r.dbClient.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: transactItems})
	if err != nil {
		if isConditionFailure(err) {
			return appErrors.NewValidation(fmt.Sprintf("node '%s' already exists", node.ID))
		}
		return appErrors.Wrap(err, "transaction to create node failed")
	}
	return nil
}

// FindNodeByID retrieves a single node's metadata. Absent resolves to nil.
func (r *Repository) FindNodeByID(ctx context.Context, id string) (*domain.Node, error) {
	result, err := r.dbClient.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: nodePK(id)},
			"SK": &types.AttributeValueMemberS{Value: skMetadata},
		},
	})
	if err != nil {
		return nil, appErrors.Wrap(err, "failed to get node item")
	}
	if result.Item == nil {
		return nil, nil // Not found
	}
	return unmarshalNode(result.Item)
}

// FindNodesByIDs retrieves many nodes in chunked BatchGetItem calls.
func (r *Repository) FindNodesByIDs(ctx context.Context, ids []string) (map[string]*domain.Node, error) {
	result := make(map[string]*domain.Node, len(ids))

	for start := 0; start < len(ids); start += batchGetLimit {
		end := min(start+batchGetLimit, len(ids))

		keys := make([]map[string]types.AttributeValue, 0, end-start)
		for _, id := range ids[start:end] {
			keys = append(keys, map[string]types.AttributeValue{
				"PK": &types.AttributeValueMemberS{Value: nodePK(id)},
				"SK": &types.AttributeValueMemberS{Value: skMetadata},
			})
		}

		requestItems := map[string]types.KeysAndAttributes{r.tableName: {Keys: keys}}
		for len(requestItems) > 0 {
			out, err := r.dbClient.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{RequestItems: requestItems})
			if err != nil {
				return nil, appErrors.Wrap(err, "failed to batch get nodes")
			}
			for _, item := range out.Responses[r.tableName] {
				node, err := unmarshalNode(item)
				if err != nil {
					return nil, err
				}
				result[node.ID] = node
			}
			// Retry any keys the service did not process in this round.
			requestItems = out.UnprocessedKeys
		}
	}
	return result, nil
}

// UpdateNode overwrites the node item and reconciles its tag index items in
// one transaction.
func (r *Repository) UpdateNode(ctx context.Context, node *domain.Node) error {
	staleTags, err := r.findTagKeys(ctx, node.ID)
	if err != nil {
		return err
	}

	nodeItem, err := attributevalue.MarshalMap(toDDBNode(node))
	if err != nil {
		return appErrors.Wrap(err, "failed to marshal node item for update")
	}

	transactItems := []types.TransactWriteItem{{
		Put: &types.Put{TableName: aws.String(r.tableName), Item: nodeItem},
	}}

	current := make(map[string]bool, len(node.Tags))
	for _, tag := range node.Tags {
		current[tag] = true
	}
	for _, tag := range staleTags {
		if current[tag] {
			continue
		}
		transactItems = append(transactItems, types.TransactWriteItem{
			Delete: &types.Delete{
				TableName: aws.String(r.tableName),
				Key: map[string]types.AttributeValue{
					"PK": &types.AttributeValueMemberS{Value: nodePK(node.ID)},
					"SK": &types.AttributeValueMemberS{Value: tagPrefix + tag},
				},
			},
		})
	}

	tagItems, err := r.tagPuts(node)
	if err != nil {
		return err
	}
	transactItems = append(transactItems, tagItems...)

	_, err = r.dbClient.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: transactItems})
	if err != nil {
		return appErrors.Wrap(err, "transaction to update node failed")
	}
	return nil
}

// DeleteNodes removes every listed node together with its tag index items.
// Deletes are issued through TransactWriteItems; DynamoDB caps a transaction
// at 100 items, so very large subtrees are removed in sequential
// transactional chunks.
func (r *Repository) DeleteNodes(ctx context.Context, ids []string) error {
	var deletes []types.TransactWriteItem
	for _, id := range ids {
		itemKeys, err := r.findItemKeys(ctx, id)
		if err != nil {
			return err
		}
		for _, key := range itemKeys {
			deletes = append(deletes, types.TransactWriteItem{
				Delete: &types.Delete{TableName: aws.String(r.tableName), Key: key},
			})
		}
	}

	for start := 0; start < len(deletes); start += transactLimit {
		end := min(start+transactLimit, len(deletes))
		_, err := r.dbClient.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: deletes[start:end],
		})
		if err != nil {
			return appErrors.Wrap(err, "transaction to delete subtree failed")
		}
	}
	return nil
}

// FindChildren queries the tree index for the direct children of a parent.
func (r *Repository) FindChildren(ctx context.Context, parentID string) ([]*domain.Node, error) {
	keyCond := expression.Key("GSI2PK").Equal(expression.Value(parentKey(parentID)))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, appErrors.Wrap(err, "failed to build children query expression")
	}

	children := []*domain.Node{}
	paginator := dynamodb.NewQueryPaginator(r.dbClient, &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		IndexName:                 aws.String(r.treeIndexName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, appErrors.Wrap(err, "failed to query children")
		}
		for _, item := range page.Items {
			node, err := unmarshalNode(item)
			if err != nil {
				return nil, err
			}
			children = append(children, node)
		}
	}
	repository.SortSiblings(children)
	return children, nil
}

// FindChildrenByParentIDs resolves child lists for many parents. DynamoDB
// partitions the tree index by parent, so this issues one indexed Query per
// distinct parent inside the single batched call.
func (r *Repository) FindChildrenByParentIDs(ctx context.Context, parentIDs []string) (map[string][]*domain.Node, error) {
	result := make(map[string][]*domain.Node, len(parentIDs))
	for _, parentID := range parentIDs {
		if _, done := result[parentID]; done {
			continue
		}
		children, err := r.FindChildren(ctx, parentID)
		if err != nil {
			return nil, err
		}
		result[parentID] = children
	}
	return result, nil
}

// FindRoots returns all container-type nodes via the ROOT partition of the
// tree index.
func (r *Repository) FindRoots(ctx context.Context) ([]*domain.Node, error) {
	return r.FindChildren(ctx, "")
}

// FindNodesByTags runs the tag-set query against the tag index. Each tag
// term is one indexed Query; the id sets are combined with set algebra and
// the survivors fetched in a batch.
func (r *Repository) FindNodesByTags(ctx context.Context, tags []string, op repository.TagOperator) ([]*domain.Node, error) {
	if len(tags) == 0 {
		return []*domain.Node{}, nil
	}

	var matched map[string]bool
	for i, tag := range tags {
		ids, err := r.queryTagIDs(ctx, tag)
		if err != nil {
			return nil, err
		}

		if op != repository.TagOperatorAnd {
			if matched == nil {
				matched = make(map[string]bool)
			}
			for id := range ids {
				matched[id] = true
			}
			continue
		}

		// AND: intersect with the running set.
		if i == 0 {
			matched = ids
			continue
		}
		for id := range matched {
			if !ids[id] {
				delete(matched, id)
			}
		}
		if len(matched) == 0 {
			break
		}
	}

	ids := make([]string, 0, len(matched))
	for id := range matched {
		ids = append(ids, id)
	}
	byID, err := r.FindNodesByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	nodes := make([]*domain.Node, 0, len(byID))
	for _, node := range byID {
		nodes = append(nodes, node)
	}
	repository.SortSiblings(nodes)
	return nodes, nil
}

// queryTagIDs returns the set of node IDs carrying the given tag.
func (r *Repository) queryTagIDs(ctx context.Context, tag string) (map[string]bool, error) {
	keyCond := expression.Key("GSI1PK").Equal(expression.Value(tagPrefix + tag))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, appErrors.Wrap(err, "failed to build tag query expression")
	}

	ids := make(map[string]bool)
	paginator := dynamodb.NewQueryPaginator(r.dbClient, &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		IndexName:                 aws.String(r.tagIndexName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, appErrors.Wrap(err, fmt.Sprintf("failed to query tag index for '%s'", tag))
		}
		for _, item := range page.Items {
			var tagItem ddbTag
			if err := attributevalue.UnmarshalMap(item, &tagItem); err != nil {
				r.logger.Warn("Skipping malformed tag item", zap.Error(err))
				continue
			}
			ids[strings.TrimPrefix(tagItem.GSI1SK, "NODE#")] = true
		}
	}
	return ids, nil
}

// findItemKeys returns the primary keys of every item stored under a node's
// partition (metadata plus tag items).
func (r *Repository) findItemKeys(ctx context.Context, nodeID string) ([]map[string]types.AttributeValue, error) {
	keyCond := expression.Key("PK").Equal(expression.Value(nodePK(nodeID)))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, appErrors.Wrap(err, "failed to build item keys expression")
	}

	out, err := r.dbClient.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ProjectionExpression:      aws.String("PK, SK"),
	})
	if err != nil {
		return nil, appErrors.Wrap(err, "failed to query node items for deletion")
	}

	keys := make([]map[string]types.AttributeValue, 0, len(out.Items))
	for _, item := range out.Items {
		keys = append(keys, map[string]types.AttributeValue{"PK": item["PK"], "SK": item["SK"]})
	}
	return keys, nil
}

// findTagKeys returns the tags currently indexed for a node.
func (r *Repository) findTagKeys(ctx context.Context, nodeID string) ([]string, error) {
	keyCond := expression.Key("PK").Equal(expression.Value(nodePK(nodeID))).
		And(expression.Key("SK").BeginsWith(tagPrefix))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, appErrors.Wrap(err, "failed to build tag keys expression")
	}

	out, err := r.dbClient.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ProjectionExpression:      aws.String("SK"),
	})
	if err != nil {
		return nil, appErrors.Wrap(err, "failed to query node tag items")
	}

	tags := make([]string, 0, len(out.Items))
	for _, item := range out.Items {
		if sk, ok := item["SK"].(*types.AttributeValueMemberS); ok {
			tags = append(tags, strings.TrimPrefix(sk.Value, tagPrefix))
		}
	}
	return tags, nil
}

func (r *Repository) tagPuts(node *domain.Node) ([]types.TransactWriteItem, error) {
	items := make([]types.TransactWriteItem, 0, len(node.Tags))
	for _, tag := range node.Tags {
		tagItem, err := attributevalue.MarshalMap(ddbTag{
			PK:     nodePK(node.ID),
			SK:     tagPrefix + tag,
			GSI1PK: tagPrefix + tag,
			GSI1SK: nodePK(node.ID),
		})
		if err != nil {
			return nil, appErrors.Wrap(err, "failed to marshal tag item")
		}
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{TableName: aws.String(r.tableName), Item: tagItem},
		})
	}
	return items, nil
}

func toDDBNode(node *domain.Node) ddbNode {
	return ddbNode{
		PK:        nodePK(node.ID),
		SK:        skMetadata,
		NodeID:    node.ID,
		NodeType:  string(node.Type),
		Name:      node.Name,
		Slug:      node.Slug,
		ParentID:  node.ParentID,
		Content:   node.Content,
		Position:  node.Position,
		Tags:      node.Tags,
		Metadata:  node.Metadata,
		CreatedBy: node.CreatedBy,
		UpdatedBy: node.UpdatedBy,
		CreatedAt: node.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt: node.UpdatedAt.Format(time.RFC3339Nano),
		GSI2PK:    parentKey(node.ParentID),
		GSI2SK:    nodePK(node.ID),
	}
}

func unmarshalNode(item map[string]types.AttributeValue) (*domain.Node, error) {
	var ddbItem ddbNode
	if err := attributevalue.UnmarshalMap(item, &ddbItem); err != nil {
		return nil, appErrors.Wrap(err, "failed to unmarshal node item")
	}
	createdAt, _ := time.Parse(time.RFC3339Nano, ddbItem.CreatedAt)
	updatedAt, _ := time.Parse(time.RFC3339Nano, ddbItem.UpdatedAt)
	return &domain.Node{
		ID:        ddbItem.NodeID,
		Type:      domain.NodeType(ddbItem.NodeType),
		Name:      ddbItem.Name,
		Slug:      ddbItem.Slug,
		ParentID:  ddbItem.ParentID,
		Content:   ddbItem.Content,
		Position:  ddbItem.Position,
		Tags:      ddbItem.Tags,
		Metadata:  ddbItem.Metadata,
		CreatedBy: ddbItem.CreatedBy,
		UpdatedBy: ddbItem.UpdatedBy,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}, nil
}

// isConditionFailure reports whether a transaction was cancelled by a
// condition check, either directly or inside a TransactionCanceledException.
func isConditionFailure(err error) bool {
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return true
	}
	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for _, reason := range txErr.CancellationReasons {
			if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
				return true
			}
		}
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "ConditionalCheckFailedException"
}
