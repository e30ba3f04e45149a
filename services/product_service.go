package services

import (
	"context"
	"net/http"

	"github.com/phatse/BE-ISC/models"
	"github.com/phatse/BE-ISC/repository"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

type ProductListResponse struct {
	Products   []*models.Product `json:"products"`
	Count      int               `json:"count"`
	Pagination Pagination        `json:"pagination"`
}

type Pagination struct {
	Current    int   `json:"current"`
	TotalPages int64 `json:"totalPages"`
	Total      int64 `json:"total"`
}

type ProductQuery struct {
	Page  int
	Limit int
	Brand string
	Sort  string // price-low | price-high | name | newest
}

type ProductService struct {
	repo   *repository.ProductRepository
	logger *zap.Logger
}

func NewProductService(repo *repository.ProductRepository, logger *zap.Logger) *ProductService {
	return &ProductService{repo: repo, logger: logger}
}

func (s *ProductService) List(ctx context.Context, q ProductQuery) (*ProductListResponse, *ServiceError) {
	filter := bson.M{}
	if q.Brand != "" && q.Brand != "all" {
		filter["brand"] = q.Brand
	}

	var sort bson.D
	switch q.Sort {
	case "price-low":
		sort = bson.D{{Key: "price", Value: 1}}
	case "price-high":
		sort = bson.D{{Key: "price", Value: -1}}
	case "name":
		sort = bson.D{{Key: "name", Value: 1}}
	default:
		sort = bson.D{{Key: "createdAt", Value: -1}}
	}

	opts := options.Find().
		SetSort(sort).
		SetSkip(int64((q.Page - 1) * q.Limit)).
		SetLimit(int64(q.Limit))

	products, err := s.repo.Find(ctx, filter, opts)
	if err != nil {
		s.logger.Error("Failed to list products", zap.Error(err))
		return nil, &ServiceError{StatusCode: http.StatusInternalServerError, Message: "Failed to fetch products"}
	}

	total, err := s.repo.Count(ctx, filter)
	if err != nil {
		s.logger.Error("Failed to count products", zap.Error(err))
		return nil, &ServiceError{StatusCode: http.StatusInternalServerError, Message: "Failed to fetch products"}
	}

	return &ProductListResponse{
		Products: products,
		Count:    len(products),
		Pagination: Pagination{
			Current:    q.Page,
			TotalPages: calculateTotalPages(total, q.Limit),
			Total:      total,
		},
	}, nil
}

func (s *ProductService) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Product, *ServiceError) {
	product, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, &ServiceError{StatusCode: http.StatusNotFound, Message: "Product not found"}
		}
		s.logger.Error("Failed to fetch product", zap.String("product_id", id.Hex()), zap.Error(err))
		return nil, &ServiceError{StatusCode: http.StatusInternalServerError, Message: "Failed to fetch product"}
	}
	return product, nil
}

func (s *ProductService) Search(ctx context.Context, term string) ([]*models.Product, *ServiceError) {
	if term == "" {
		return nil, &ServiceError{StatusCode: http.StatusBadRequest, Message: "Please provide a search term"}
	}
	products, err := s.repo.Search(ctx, term)
	if err != nil {
		s.logger.Error("Product search failed", zap.String("term", term), zap.Error(err))
		return nil, &ServiceError{StatusCode: http.StatusInternalServerError, Message: "Search failed"}
	}
	return products, nil
}

func (s *ProductService) Create(ctx context.Context, product *models.Product) (*models.Product, *ServiceError) {
	res, err := s.repo.Create(ctx, product)
	if err != nil {
		s.logger.Error("Failed to create product", zap.Error(err))
		return nil, &ServiceError{StatusCode: http.StatusInternalServerError, Message: "Failed to create product"}
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		product.ID = oid
	}
	return product, nil
}

func (s *ProductService) Update(ctx context.Context, id primitive.ObjectID, updates bson.M) (*models.Product, *ServiceError) {
	res, err := s.repo.Update(ctx, id, updates)
	if err != nil {
		s.logger.Error("Failed to update product", zap.String("product_id", id.Hex()), zap.Error(err))
		return nil, &ServiceError{StatusCode: http.StatusInternalServerError, Message: "Failed to update product"}
	}
	if res.MatchedCount == 0 {
		return nil, &ServiceError{StatusCode: http.StatusNotFound, Message: "Product not found"}
	}
	return s.GetByID(ctx, id)
}

func (s *ProductService) Delete(ctx context.Context, id primitive.ObjectID) *ServiceError {
	res, err := s.repo.Delete(ctx, id)
	if err != nil {
		s.logger.Error("Failed to delete product", zap.String("product_id", id.Hex()), zap.Error(err))
		return &ServiceError{StatusCode: http.StatusInternalServerError, Message: "Failed to delete product"}
	}
	if res.DeletedCount == 0 {
		return &ServiceError{StatusCode: http.StatusNotFound, Message: "Product not found"}
	}
	return nil
}
